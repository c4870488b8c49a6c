package sensors

import (
	"context"
	"time"

	"github.com/nugget/hostreporter/internal/entity"
)

// Monitor reports the time of the last status round, so a stale value
// in Home Assistant shows the agent stopped publishing.
type Monitor struct {
	topic string
	now   func() time.Time
}

// NewMonitor returns the monitor sensor.
func NewMonitor(topics entity.Topics) *Monitor {
	return &Monitor{topic: topics.Sensor("monitor"), now: time.Now}
}

func (m *Monitor) Topic() string { return m.topic }

func (m *Monitor) Discovery() []entity.SensorDescriptor {
	return []entity.SensorDescriptor{{
		ID:             "monitor",
		Name:           "Updated",
		Icon:           "mdi:timer",
		EntityCategory: "diagnostic",
		DeviceClass:    "timestamp",
		ValueTemplate:  "{{ value_json }}",
	}}
}

// Status returns the current UTC time in RFC 3339 format.
func (m *Monitor) Status(context.Context) (any, error) {
	return m.now().UTC().Format(time.RFC3339), nil
}
