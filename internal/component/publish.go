package component

import (
	"encoding/json"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

type metadataPayload struct {
	ComponentID  string   `json:"component_id"`
	InstanceID   string   `json:"instance_id"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Metrics      []string `json:"metrics"`
}

type statusPayload struct {
	State string `json:"state"`
	TS    string `json:"ts"`
}

type statePayload struct {
	Values map[string]float64 `json:"values"`
	TS     string             `json:"ts"`
}

type telemetryPayload struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	TS     string  `json:"ts"`
}

// publishJSON encodes v and hands it to the publisher. Failures are
// logged; nothing on the publish path is allowed to stop the caller.
func (c *Component) publishJSON(suffix string, v any, retained bool) bool {
	errFactory := errors.New()

	payload, err := json.Marshal(v)
	if err != nil {
		logger.ErrorWithCode(errFactory.Wrap(errors.ErrPublish, err)).Str("topic", suffix).Msg("Failed to encode payload")
		return false
	}

	if err := c.opts.Publisher.Publish(suffix, payload, retained); err != nil {
		logger.Error().Err(err).Str("topic", suffix).Msg("Failed to publish")
		return false
	}

	return true
}

func (c *Component) publishMetadata() {
	c.publishJSON(SuffixMetadata, metadataPayload{
		ComponentID:  c.opts.ComponentID,
		InstanceID:   c.instanceID,
		Version:      c.opts.Version,
		Capabilities: c.Capabilities(),
		Metrics:      c.knownMetrics(),
	}, true)
}

func (c *Component) publishStatus(state string) {
	c.publishJSON(SuffixStatus, statusPayload{State: state, TS: c.timestamp()}, true)
}

func (c *Component) publishConfig() {
	c.publishJSON(SuffixConfig, c.store.Get(), true)
}
