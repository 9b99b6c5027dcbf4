package component

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/telemetryd/internal/bus"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/source"
)

func (c *Component) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.SampleInterval)
	defer ticker.Stop()

	c.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick samples the source once, republishes the retained state and
// emits telemetry for every metric the gate lets through.
func (c *Component) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New().WithData(errors.ErrInternal, fmt.Sprint(r))
			logger.ErrorWithCode(err).Msg("Recovered from panic in sampling loop")
		}
	}()

	// The gate and timestamps use the tick's start, not the moment the
	// source returned, so sampling latency cannot stretch the heartbeat.
	now := c.opts.Clock()

	started := time.Now()
	values, err := c.opts.Source.Sample(ctx)
	if err == nil {
		err = source.Validate(values)
	}
	c.opts.Instruments.SampleDuration(ctx, time.Since(started))

	// Stopped while sampling: the loop no longer owns the topics.
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.opts.Instruments.SampleFailed(ctx)
		logger.Warn().Err(err).Str("code", string(errors.CodeOf(err))).Msg("Sample failed, skipping tick")
		return
	}

	ts := bus.Timestamp(now)

	c.publishFromLoop(ctx, SuffixState, statePayload{Values: values, TS: ts}, true)

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	if ctx.Err() != nil {
		return
	}
	if added := c.store.EnsureMetrics(names); len(added) > 0 {
		logger.Info().Strs("metrics", added).Msg("Discovered new metrics")
		c.publishConfig()
		c.publishMetadata()
	}

	tel := c.store.Telemetry()
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		value := values[name]
		cfg, ok := tel.Metrics[name]
		if !c.gate.Observe(name, value, cfg, ok, now) {
			c.opts.Instruments.Suppressed(ctx, name)
			continue
		}

		c.publishFromLoop(ctx, TelemetrySuffix(name), telemetryPayload{Metric: name, Value: value, TS: ts}, false)
		c.opts.Instruments.Emitted(ctx, name)
	}
}

// publishFromLoop drops the message once the loop's context is done so an
// abandoned loop cannot publish after status=stopped.
func (c *Component) publishFromLoop(ctx context.Context, suffix string, v any, retained bool) {
	if ctx.Err() != nil {
		return
	}
	c.publishJSON(suffix, v, retained)
}
