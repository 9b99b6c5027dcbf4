package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// Metric names reported by Source.
const (
	MetricTemperature = "gpu_temperature_c"
	MetricFanSpeed    = "gpu_fan_speed_percent"
	MetricPower       = "gpu_power_w"
	MetricUtilization = "gpu_utilization_percent"
)

// device is the subset of nvml.Device the source reads. It exists so
// tests can substitute a fake.
type device interface {
	GetName() (string, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetFanSpeed_v2(fan int) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
}
