package sensors

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nugget/hostreporter/internal/entity"
)

// MemoryStatus is memory and swap usage in KiB.
type MemoryStatus struct {
	MemUse   uint64 `json:"mem_use"`
	MemFree  uint64 `json:"mem_free"`
	SwapUse  uint64 `json:"swap_use"`
	SwapFree uint64 `json:"swap_free"`
}

// MemorySource reads virtual memory and swap statistics.
type MemorySource interface {
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error)
}

type psMemory struct{}

func (psMemory) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (psMemory) SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	return mem.SwapMemoryWithContext(ctx)
}

// Memory reports memory and swap usage.
type Memory struct {
	topic  string
	source MemorySource
}

// NewMemory returns the memory sensor. A nil source reads the host.
func NewMemory(topics entity.Topics, source MemorySource) *Memory {
	if source == nil {
		source = psMemory{}
	}
	return &Memory{topic: topics.Sensor("memory"), source: source}
}

func (m *Memory) Topic() string { return m.topic }

func (m *Memory) Discovery() []entity.SensorDescriptor {
	base := entity.SensorDescriptor{
		Icon:           "mdi:memory",
		DeviceClass:    "data_size",
		StateClass:     "measurement",
		EntityCategory: "diagnostic",
		Unit:           "KiB",
	}
	items := []struct{ id, name, field string }{
		{"memory_use", "Memory use", "mem_use"},
		{"memory_free", "Memory free", "mem_free"},
		{"swap_use", "Swap use", "swap_use"},
		{"swap_free", "Swap free", "swap_free"},
	}
	out := make([]entity.SensorDescriptor, 0, len(items))
	for i, it := range items {
		d := base
		d.ID, d.Name = it.id, it.name
		d.ValueTemplate = "{{ value_json." + it.field + " }}"
		if i == 0 {
			d.EntityCategory = ""
		}
		out = append(out, d)
	}
	return out
}

// Status reads memory usage. Used memory follows free(1): total minus
// available when available is meaningful, otherwise total minus free.
func (m *Memory) Status(ctx context.Context) (any, error) {
	vm, err := m.source.VirtualMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	sw, err := m.source.SwapMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read swap: %w", err)
	}

	used := vm.Total - vm.Free
	if vm.Available > 0 && vm.Available < vm.Total {
		used = vm.Total - vm.Available
	}
	var swapUsed uint64
	if sw.Total > sw.Free {
		swapUsed = sw.Total - sw.Free
	}
	return MemoryStatus{
		MemUse:   used / 1024,
		MemFree:  vm.Free / 1024,
		SwapUse:  swapUsed / 1024,
		SwapFree: sw.Free / 1024,
	}, nil
}
