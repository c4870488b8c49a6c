package sensors

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/load"

	"github.com/nugget/hostreporter/internal/entity"
)

// LoadStatus holds the 1, 5 and 15 minute load averages.
type LoadStatus struct {
	Load1  float64 `json:"load_1min"`
	Load5  float64 `json:"load_5min"`
	Load15 float64 `json:"load_15min"`
}

// Load reports system load averages.
type Load struct {
	topic string
	avg   func(ctx context.Context) (*load.AvgStat, error)
}

// NewLoad returns the load sensor.
func NewLoad(topics entity.Topics) *Load {
	return &Load{topic: topics.Sensor("load"), avg: load.AvgWithContext}
}

func (l *Load) Topic() string { return l.topic }

func (l *Load) Discovery() []entity.SensorDescriptor {
	out := make([]entity.SensorDescriptor, 0, 3)
	for _, w := range []string{"1", "5", "15"} {
		out = append(out, entity.SensorDescriptor{
			ID:             "load_" + w + "min",
			Name:           "Load (" + w + "m)",
			Icon:           "mdi:cpu-64-bit",
			StateClass:     "measurement",
			EntityCategory: "diagnostic",
			ValueTemplate:  "{{ value_json.load_" + w + "min }}",
		})
	}
	return out
}

func (l *Load) Status(ctx context.Context) (any, error) {
	a, err := l.avg(ctx)
	if err != nil {
		return nil, fmt.Errorf("read load average: %w", err)
	}
	return LoadStatus{Load1: a.Load1, Load5: a.Load5, Load15: a.Load15}, nil
}
