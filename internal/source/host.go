package source

import (
	"context"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
)

const (
	MetricCPUPercent = "cpu_percent"
	MetricLoad       = "load"

	// A zero window makes gopsutil compare against the previous call,
	// which reads 0 on the first sample.
	defaultCPUWindow = 100 * time.Millisecond
)

// Host samples whole-machine CPU utilisation and the 1-minute load
// average.
type Host struct {
	window     time.Duration
	cpuPercent func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	loadAvg    func(ctx context.Context) (*load.AvgStat, error)
}

func NewHost() *Host {
	return &Host{
		window:     defaultCPUWindow,
		cpuPercent: cpu.PercentWithContext,
		loadAvg:    load.AvgWithContext,
	}
}

func (*Host) Metrics() []string {
	return []string{MetricCPUPercent, MetricLoad}
}

func (h *Host) Sample(ctx context.Context) (map[string]float64, error) {
	errFactory := errors.New()

	percents, err := h.cpuPercent(ctx, h.window, false)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrSourceRead, err)
	}
	if len(percents) == 0 {
		return nil, errFactory.WithData(errors.ErrSourceRead, "no cpu reading")
	}

	avg, err := h.loadAvg(ctx)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrSourceRead, err)
	}

	return map[string]float64{
		MetricCPUPercent: percents[0],
		MetricLoad:       avg.Load1,
	}, nil
}
