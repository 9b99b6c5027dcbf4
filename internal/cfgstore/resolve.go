package cfgstore

import (
	"encoding/json"
	"fmt"
	"math"

	"codeberg.org/mutker/telemetryd/internal/errors"
)

// Resolve builds a metric's configuration from defaults, then the
// existing value (when present), then the fields in partial. Fields
// absent from partial keep their existing value.
func Resolve(defaults MetricConfig, existing MetricConfig, present bool, partial map[string]any) (MetricConfig, error) {
	errFactory := errors.New()

	out := defaults
	if present {
		out = existing
	}

	if raw, ok := partial[keyEnabled]; ok {
		b, ok := raw.(bool)
		if !ok {
			return MetricConfig{}, errFactory.WithMessage(errors.ErrValidation,
				fmt.Sprintf("%s must be a boolean", keyEnabled))
		}
		out.Enabled = b
	}

	if raw, ok := partial[keyInterval]; ok {
		f, ok := toFloat(raw)
		if !ok || f <= 0 {
			return MetricConfig{}, errFactory.WithMessage(errors.ErrValidation,
				fmt.Sprintf("%s must be a number greater than 0", keyInterval))
		}
		out.IntervalS = f
	}

	if raw, ok := partial[keyThreshold]; ok {
		f, ok := toFloat(raw)
		if !ok || f < 0 {
			return MetricConfig{}, errFactory.WithMessage(errors.ErrValidation,
				fmt.Sprintf("%s must be a number >= 0", keyThreshold))
		}
		out.ChangeThresholdPercent = f
	}

	return out, nil
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}
