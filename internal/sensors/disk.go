package sensors

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/nugget/hostreporter/internal/entity"
)

// DiskStatus is root filesystem usage in bytes.
type DiskStatus struct {
	DiskUse  uint64 `json:"disk_use"`
	DiskFree uint64 `json:"disk_free"`
}

// Disk reports usage of one filesystem, the root by default.
type Disk struct {
	topic string
	path  string
	usage func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewDisk returns the disk sensor for the root filesystem.
func NewDisk(topics entity.Topics) *Disk {
	return &Disk{topic: topics.Sensor("disk"), path: "/", usage: disk.UsageWithContext}
}

func (d *Disk) Topic() string { return d.topic }

func (d *Disk) Discovery() []entity.SensorDescriptor {
	base := entity.SensorDescriptor{
		Icon:        "mdi:harddisk",
		DeviceClass: "data_size",
		StateClass:  "measurement",
		Unit:        "B",
	}
	use, free := base, base
	use.ID, use.Name, use.ValueTemplate = "disk_use", "Disk use", "{{ value_json.disk_use }}"
	free.ID, free.Name, free.ValueTemplate = "disk_free", "Disk free", "{{ value_json.disk_free }}"
	free.EntityCategory = "diagnostic"
	return []entity.SensorDescriptor{use, free}
}

// Status reports used and available bytes. Free is the space available
// to unprivileged users.
func (d *Disk) Status(ctx context.Context) (any, error) {
	u, err := d.usage(ctx, d.path)
	if err != nil {
		return nil, fmt.Errorf("statfs %s: %w", d.path, err)
	}
	return DiskStatus{DiskUse: u.Used, DiskFree: u.Free}, nil
}
