// Package component runs the sampling loop and the command handlers of a
// telemetry-gated device component on top of a Publisher.
package component

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/bus"
	"codeberg.org/mutker/telemetryd/internal/cfgstore"
	"codeberg.org/mutker/telemetryd/internal/command"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/gate"
	"codeberg.org/mutker/telemetryd/internal/instrument"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/source"
	"github.com/google/uuid"
)

// Retained topic suffixes.
const (
	SuffixMetadata = "metadata"
	SuffixStatus   = "status"
	SuffixState    = "state"
	SuffixConfig   = "cfg"
	SuffixLogs     = "logs"

	telemetryPrefix = "evt/telemetry/"

	StateRunning = "running"
	StateStopped = "stopped"

	DefaultSampleInterval = 2 * time.Second
	DefaultStopGrace      = 2 * time.Second
)

// TelemetrySuffix returns the event suffix for metric.
func TelemetrySuffix(metric string) string {
	return telemetryPrefix + metric
}

type Options struct {
	ComponentID    string
	Version        string
	SampleInterval time.Duration
	StopGrace      time.Duration
	Defaults       cfgstore.MetricConfig
	Source         source.Source
	Publisher      bus.Publisher
	Instruments    *instrument.Instruments
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// retainedReader is implemented by publishers that can hand back what
// they retained, such as *bus.Bus.
type retainedReader interface {
	Retained(suffix string) ([]byte, bool)
}

type Component struct {
	opts       Options
	instanceID string
	store      *cfgstore.Store
	gate       *gate.Gate
	dispatcher *command.Dispatcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts Options) (*Component, error) {
	errFactory := errors.New()

	if opts.Source == nil || opts.Publisher == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "source and publisher are required")
	}
	if opts.ComponentID == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "component id is required")
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Defaults == (cfgstore.MetricConfig{}) {
		opts.Defaults = cfgstore.DefaultMetricConfig()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Component{
		opts:       opts,
		instanceID: uuid.NewString(),
		store:      cfgstore.New(opts.Defaults),
		gate:       gate.New(),
	}
	c.store.EnsureMetrics(opts.Source.Metrics())
	c.restoreConfig()

	c.dispatcher = command.NewDispatcher(c.timestamp)
	c.dispatcher.Register(command.ActionReset, c.handleReset)
	c.dispatcher.Register(command.ActionPing, c.handlePing)
	c.dispatcher.Register(command.ActionCfgSet, c.handleCfgSet)

	return c, nil
}

// Config returns a copy of the current configuration document.
func (c *Component) Config() cfgstore.Document {
	return c.store.Get()
}

func (c *Component) InstanceID() string {
	return c.instanceID
}

// Start publishes the retained identity topics and launches the sampling
// loop. Calling Start on a running component does nothing.
func (c *Component) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	// A loop abandoned by a timed-out Stop gets one more grace period to
	// exit before a new one starts. It is cancelled and cannot publish.
	if c.done != nil {
		timer := time.NewTimer(c.opts.StopGrace)
		select {
		case <-c.done:
		case <-timer.C:
			logger.Warn().Msg("Previous sampling loop still running, starting a new one")
		}
		timer.Stop()
	}

	c.gate.Reset()
	c.publishMetadata()
	c.publishStatus(StateRunning)
	c.publishConfig()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running = true

	go c.run(ctx, done)

	logger.Info().
		Str("component_id", c.opts.ComponentID).
		Str("instance_id", c.instanceID).
		Dur("interval", c.opts.SampleInterval).
		Msg("Component started")
}

// Stop cancels the loop and waits up to the stop grace for it to exit.
// A loop that does not exit in time is logged and abandoned. Calling
// Stop on a stopped component does nothing.
func (c *Component) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	c.cancel()

	timer := time.NewTimer(c.opts.StopGrace)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		err := errors.New().WithData(errors.ErrShutdownTimeout, c.opts.StopGrace.String())
		logger.WarnWithCode(err).Msg("Sampling loop did not stop within grace period")
	}

	c.gate.Reset()
	c.publishStatus(StateStopped)

	logger.Info().Str("component_id", c.opts.ComponentID).Msg("Component stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (c *Component) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// HandleCommand runs the command addressed by an inbound suffix such as
// "cmd/ping" and publishes its result. The result is also returned.
func (c *Component) HandleCommand(ctx context.Context, suffix string, payload []byte) command.Result {
	action, ok := command.ActionFromSuffix(suffix)
	if !ok {
		action = suffix
	}

	res := c.dispatcher.Dispatch(ctx, action, payload)
	c.opts.Instruments.Command(ctx, action, res.OK)
	c.publishJSON(command.ResultSuffix(action), res, false)

	return res
}

// Capabilities lists the supported command actions.
func (c *Component) Capabilities() []string {
	return c.dispatcher.Actions()
}

func (c *Component) knownMetrics() []string {
	tel := c.store.Telemetry()
	names := make([]string, 0, len(tel.Metrics))
	for name := range tel.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (c *Component) timestamp() string {
	return bus.Timestamp(c.opts.Clock())
}

// restoreConfig applies a cfg document the publisher retained from a
// previous run. Metrics the current source no longer reports are
// dropped.
func (c *Component) restoreConfig() {
	reader, ok := c.opts.Publisher.(retainedReader)
	if !ok {
		return
	}
	raw, ok := reader.Retained(SuffixConfig)
	if !ok {
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn().Err(err).Msg("Ignoring unreadable retained configuration")
		return
	}

	_, unknown, err := c.store.Merge(doc, c.knownMetrics())
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring invalid retained configuration")
		return
	}
	if len(unknown) > 0 {
		logger.Debug().Strs("metrics", unknown).Msg("Dropped retained settings for unavailable metrics")
	}

	logger.Info().Msg("Restored retained configuration")
}
