package component

import (
	"context"

	"codeberg.org/mutker/telemetryd/internal/command"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

// handleReset acknowledges the request. The component has no resettable
// device state of its own.
func (c *Component) handleReset(_ context.Context, req command.Request) (map[string]any, error) {
	logger.Info().Str("request_id", req.RequestID).Msg("Reset requested")
	return nil, nil
}

func (c *Component) handlePing(_ context.Context, _ command.Request) (map[string]any, error) {
	return nil, nil
}

// handleCfgSet merges the set document into the store and republishes
// the retained configuration before the result goes out.
func (c *Component) handleCfgSet(_ context.Context, req command.Request) (map[string]any, error) {
	applied, unknown, err := c.store.Merge(req.Set, c.knownMetrics())

	for _, name := range unknown {
		logger.Warn().
			Str("request_id", req.RequestID).
			Str("metric", name).
			Msg("Ignoring settings for unknown metric")
	}

	if err != nil {
		return nil, err
	}

	c.publishConfig()

	return applied, nil
}
