package sensors

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/sampler"
)

// CPUTimes is one snapshot of cumulative CPU time, for the whole host
// and per core.
type CPUTimes struct {
	Total  cpu.TimesStat
	PerCPU []cpu.TimesStat
}

// CPUUsage is the busy percentage over one sampling window. Total is
// averaged across cores; PerCPU is present only on multi-core hosts.
type CPUUsage struct {
	Total  float64   `json:"total"`
	PerCPU []float64 `json:"per_cpu,omitempty"`
}

// ReadCPUTimes reads the current CPU time counters.
func ReadCPUTimes(ctx context.Context) (CPUTimes, error) {
	total, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUTimes{}, fmt.Errorf("read cpu times: %w", err)
	}
	if len(total) == 0 {
		return CPUTimes{}, fmt.Errorf("read cpu times: no aggregate entry")
	}
	per, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return CPUTimes{}, fmt.Errorf("read per-cpu times: %w", err)
	}
	return CPUTimes{Total: total[0], PerCPU: per}, nil
}

func busySeconds(t cpu.TimesStat) float64 {
	return t.User + t.Nice + t.System + t.Guest + t.GuestNice
}

func busyPercent(prev, cur cpu.TimesStat, elapsed time.Duration) float64 {
	delta := busySeconds(cur) - busySeconds(prev)
	if delta < 0 {
		delta = 0
	}
	return delta / elapsed.Seconds() * 100
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// DeriveCPUUsage computes busy percentages between two snapshots.
func DeriveCPUUsage(prev, cur CPUTimes, elapsed time.Duration) CPUUsage {
	cores := len(cur.PerCPU)
	if cores == 0 {
		cores = 1
	}
	usage := CPUUsage{
		Total: roundTenth(busyPercent(prev.Total, cur.Total, elapsed) / float64(cores)),
	}
	if n := min(len(prev.PerCPU), len(cur.PerCPU)); n > 1 {
		usage.PerCPU = make([]float64, n)
		for i := range n {
			usage.PerCPU[i] = roundTenth(busyPercent(prev.PerCPU[i], cur.PerCPU[i], elapsed))
		}
	}
	return usage
}

// CPU reports CPU utilization averaged over the sampling window.
type CPU struct {
	topic   string
	cores   int
	sampler *sampler.Sampler[CPUTimes, CPUUsage]
}

// NewCPU takes the first CPU snapshot and starts sampling. The sampler
// lives until ctx is cancelled. A nil read uses [ReadCPUTimes].
func NewCPU(ctx context.Context, topics entity.Topics, opts sampler.Options, read sampler.ReadFunc[CPUTimes]) (*CPU, error) {
	if read == nil {
		read = ReadCPUTimes
	}
	opts.Name = "cpu"
	first, err := read(ctx)
	if err != nil {
		return nil, fmt.Errorf("create cpu sensor: %w", err)
	}
	return &CPU{
		topic:   topics.Sensor("cpu"),
		cores:   len(first.PerCPU),
		sampler: sampler.StartFrom(ctx, opts, first, read, DeriveCPUUsage),
	}, nil
}

func (c *CPU) Topic() string { return c.topic }

func (c *CPU) Discovery() []entity.SensorDescriptor {
	base := entity.SensorDescriptor{
		Icon:           "mdi:cpu-64-bit",
		EntityCategory: "diagnostic",
		StateClass:     "measurement",
		Unit:           "%",
		Precision:      entity.Precision(1),
	}

	total := base
	total.ID = "cpu"
	total.Name = "CPU use"
	total.EntityCategory = ""
	total.ValueTemplate = "{{ value_json.total }}"
	out := []entity.SensorDescriptor{total}

	if c.cores > 1 {
		for i := range c.cores {
			d := base
			d.ID = fmt.Sprintf("cpu_%d", i)
			d.Name = fmt.Sprintf("CPU %d use", i)
			d.ValueTemplate = fmt.Sprintf("{{ value_json.per_cpu[%d] }}", i)
			out = append(out, d)
		}
	}
	return out
}

// Status waits for the next completed sampling window.
func (c *CPU) Status(ctx context.Context) (any, error) {
	return c.sampler.Next(ctx)
}
