// Package source provides the metric sources the sampling loop reads.
package source

import (
	"context"
	"fmt"
	"math"
	"sort"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

// Source returns the current value of every metric it knows about.
type Source interface {
	// Metrics lists the metric names Sample is expected to return.
	Metrics() []string
	Sample(ctx context.Context) (map[string]float64, error)
}

type multi struct {
	sources []Source
}

// Multi combines sources into one. A failure of any source fails the
// whole sample so that retained state is never published half-updated.
func Multi(sources ...Source) Source {
	return &multi{sources: sources}
}

func (m *multi) Metrics() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, s := range m.sources {
		for _, name := range s.Metrics() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names
}

func (m *multi) Sample(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, s := range m.sources {
		values, err := s.Sample(ctx)
		if err != nil {
			return nil, err
		}
		for name, v := range values {
			out[name] = v
		}
	}

	return out, nil
}

// Validate rejects samples carrying values that cannot be gated or
// encoded.
func Validate(values map[string]float64) error {
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New().WithData(errors.ErrSourceRead, fmt.Sprintf("%s=%v", name, v))
		}
	}

	return nil
}
