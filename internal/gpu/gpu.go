// Package gpu samples an NVIDIA GPU through NVML.
package gpu

import (
	"context"
	"sync"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsToWatts = 1000

// Source reads temperature, fan speed, power draw and utilisation of a
// single GPU.
type Source struct {
	lib      nvmlController
	device   device
	fanCount int
	mu       sync.Mutex
}

// New initialises NVML and opens the GPU at index.
func New(index int) (*Source, error) {
	return open(&nvmlWrapper{}, index)
}

func open(lib nvmlController, index int) (*Source, error) {
	errFactory := errors.New()

	if err := lib.Initialize(); err != nil {
		return nil, err
	}

	dev, err := lib.GetDevice(index)
	if err != nil {
		if shutdownErr := lib.Shutdown(); shutdownErr != nil {
			logger.Debug().Err(shutdownErr).Msg("Failed to shut down NVML after open error")
		}
		return nil, err
	}

	if name, ret := dev.GetName(); IsNVMLSuccess(ret) {
		logger.Info().Int("index", index).Msgf("Detected GPU: %v", name)
	} else {
		logger.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	count, ret := dev.GetNumFans()
	if !IsNVMLSuccess(ret) {
		// Passively cooled cards report NOT_SUPPORTED here.
		if ret != nvml.ERROR_NOT_SUPPORTED {
			_ = lib.Shutdown()
			return nil, errFactory.Wrap(ErrFanCountFailed, newNVMLError(ret))
		}
		count = 0
	}
	logger.Debug().Msgf("Detected fans: %d", count)

	return &Source{lib: lib, device: dev, fanCount: count}, nil
}

func (s *Source) Metrics() []string {
	names := []string{MetricTemperature, MetricPower, MetricUtilization}
	if s.fanCount > 0 {
		names = append(names, MetricFanSpeed)
	}

	return names
}

// Sample reads every metric. Fan speed is the mean across all fans.
func (s *Source) Sample(_ context.Context) (map[string]float64, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	temp, ret := s.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(errors.ErrSourceRead, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret)))
	}

	power, ret := s.device.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(errors.ErrSourceRead, errFactory.Wrap(ErrPowerReadFailed, newNVMLError(ret)))
	}

	util, ret := s.device.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(errors.ErrSourceRead, errFactory.Wrap(ErrUtilizationFailed, newNVMLError(ret)))
	}

	out := map[string]float64{
		MetricTemperature: float64(temp),
		MetricPower:       float64(power) / milliWattsToWatts,
		MetricUtilization: float64(util.Gpu),
	}

	if s.fanCount > 0 {
		var sum uint32
		for i := 0; i < s.fanCount; i++ {
			speed, ret := s.device.GetFanSpeed_v2(i)
			if !IsNVMLSuccess(ret) {
				return nil, errFactory.Wrap(errors.ErrSourceRead, errFactory.Wrap(ErrGetFanSpeedFailed, newNVMLError(ret)))
			}
			sum += speed
		}
		out[MetricFanSpeed] = float64(sum) / float64(s.fanCount)
	}

	return out, nil
}

// Close shuts NVML down.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lib.Shutdown()
}
