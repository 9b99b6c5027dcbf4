package cfgstore

import (
	"fmt"
	"sort"
	"sync"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

// Store owns the configuration document. All access goes through its
// lock; nothing it returns aliases internal state.
type Store struct {
	mu       sync.RWMutex
	defaults MetricConfig
	doc      Document
}

func New(defaults MetricConfig) *Store {
	return &Store{
		defaults: defaults,
		doc: Document{
			Telemetry: TelemetryConfig{Metrics: map[string]MetricConfig{}},
		},
	}
}

// Defaults returns the configuration given to metrics nobody has tuned.
func (s *Store) Defaults() MetricConfig {
	return s.defaults
}

// Get returns a copy of the full document.
func (s *Store) Get() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Document{
		LogsEnabled: s.doc.LogsEnabled,
		Telemetry:   s.doc.Telemetry.Clone(),
	}
}

// Telemetry returns a copy of the per-metric settings.
func (s *Store) Telemetry() TelemetryConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.doc.Telemetry.Clone()
}

func (s *Store) LogsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.doc.LogsEnabled
}

// ReplaceAll swaps in a whole telemetry configuration. Only used to seed
// the store at startup.
func (s *Store) ReplaceAll(tc TelemetryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Telemetry = tc.Clone()
}

// EnsureMetrics gives every name without a configuration the defaults
// and returns the names that were added, sorted.
func (s *Store) EnsureMetrics(names []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []string
	for _, name := range names {
		if _, ok := s.doc.Telemetry.Metrics[name]; ok {
			continue
		}
		s.doc.Telemetry.Metrics[name] = s.defaults
		added = append(added, name)
	}
	sort.Strings(added)

	return added
}

// Merge applies a set document of the form
//
//	{"logs_enabled": bool, "telemetry": {"metrics": {"<name>": {...} | bool}}}
//
// Metric names outside known are skipped and returned as warnings. Any
// shape or value error rejects the whole document and leaves the store
// untouched. On success applied echoes what changed, with the full
// resolved metric map whenever telemetry was given; it is nil when the
// document was empty.
func (s *Store) Merge(partial map[string]any, known []string) (applied map[string]any, unknown []string, err error) {
	errFactory := errors.New()

	var logsEnabled *bool
	if raw, ok := partial[keyLogsEnabled]; ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, nil, errFactory.WithMessage(errors.ErrValidation,
				fmt.Sprintf("%s must be a boolean", keyLogsEnabled))
		}
		logsEnabled = &b
	}

	telemetryGiven := false
	var metricsPartial map[string]any
	if raw, ok := partial[keyTelemetry]; ok {
		tel, ok := raw.(map[string]any)
		if !ok {
			return nil, nil, errFactory.WithMessage(errors.ErrValidation,
				fmt.Sprintf("%s must be an object", keyTelemetry))
		}
		telemetryGiven = true

		if rawMetrics, ok := tel[keyMetrics]; ok {
			m, ok := rawMetrics.(map[string]any)
			if !ok {
				return nil, nil, errFactory.WithMessage(errors.ErrValidation,
					fmt.Sprintf("%s.%s must be an object", keyTelemetry, keyMetrics))
			}
			metricsPartial = m
		}
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, name := range known {
		knownSet[name] = struct{}{}
	}

	names := make([]string, 0, len(metricsPartial))
	for name := range metricsPartial {
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.Telemetry.Clone()
	for _, name := range names {
		if _, ok := knownSet[name]; !ok {
			unknown = append(unknown, name)
			continue
		}

		fields, err := metricFields(name, metricsPartial[name])
		if err != nil {
			return nil, unknown, err
		}

		existing, present := next.Metrics[name]
		resolved, err := Resolve(s.defaults, existing, present, fields)
		if err != nil {
			return nil, unknown, errFactory.WithMessage(errors.ErrValidation,
				fmt.Sprintf("%s.%s.%s: %s", keyTelemetry, keyMetrics, name, messageOf(err)))
		}
		next.Metrics[name] = resolved
	}

	for _, name := range known {
		if _, ok := next.Metrics[name]; !ok {
			next.Metrics[name] = s.defaults
		}
	}

	s.doc.Telemetry = next

	applied = map[string]any{}
	if logsEnabled != nil {
		s.doc.LogsEnabled = *logsEnabled
		applied[keyLogsEnabled] = *logsEnabled
	}
	if telemetryGiven {
		applied[keyTelemetry] = map[string]any{
			keyMetrics: next.Clone().Metrics,
		}
	}
	if len(applied) == 0 {
		applied = nil
	}

	return applied, unknown, nil
}

// metricFields normalises one metric entry. A bare boolean is shorthand
// for {"enabled": <bool>}.
func metricFields(name string, raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case bool:
		return map[string]any{keyEnabled: v}, nil
	default:
		return nil, errors.New().WithMessage(errors.ErrValidation,
			fmt.Sprintf("%s.%s.%s must be an object", keyTelemetry, keyMetrics, name))
	}
}

func messageOf(err error) string {
	var e errors.Error
	if errors.As(err, &e) {
		return e.Message()
	}

	return err.Error()
}
