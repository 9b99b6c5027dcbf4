package source

import (
	"context"
	stderrors "errors"
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed struct {
	names  []string
	values map[string]float64
	err    error
}

func (f fixed) Metrics() []string { return f.names }

func (f fixed) Sample(context.Context) (map[string]float64, error) {
	return f.values, f.err
}

func fakeHost(cpuErr, loadErr error) *Host {
	return &Host{
		window: time.Millisecond,
		cpuPercent: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{42.5}, cpuErr
		},
		loadAvg: func(context.Context) (*load.AvgStat, error) {
			return &load.AvgStat{Load1: 0.75, Load5: 1, Load15: 2}, loadErr
		},
	}
}

func TestHostSample(t *testing.T) {
	values, err := fakeHost(nil, nil).Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"cpu_percent": 42.5, "load": 0.75}, values)
	assert.Equal(t, []string{"cpu_percent", "load"}, NewHost().Metrics())
}

func TestHostSampleFailures(t *testing.T) {
	_, err := fakeHost(stderrors.New("no /proc/stat"), nil).Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSourceRead))

	_, err = fakeHost(nil, stderrors.New("not supported")).Sample(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSourceRead))
}

func TestMulti(t *testing.T) {
	m := Multi(
		fixed{names: []string{"load", "cpu_percent"}, values: map[string]float64{"load": 1, "cpu_percent": 2}},
		fixed{names: []string{"gpu_power_w", "load"}, values: map[string]float64{"gpu_power_w": 80}},
	)

	assert.Equal(t, []string{"cpu_percent", "gpu_power_w", "load"}, m.Metrics())

	values, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"load": 1, "cpu_percent": 2, "gpu_power_w": 80}, values)
}

func TestMultiFailsWhole(t *testing.T) {
	m := Multi(
		fixed{values: map[string]float64{"load": 1}},
		fixed{err: stderrors.New("nvml gone")},
	)

	values, err := m.Sample(context.Background())
	require.Error(t, err)
	assert.Nil(t, values)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(map[string]float64{"load": 1}))

	err := Validate(map[string]float64{"load": math.NaN()})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSourceRead))
	assert.Error(t, Validate(map[string]float64{"cpu_percent": math.Inf(1)}))
}
