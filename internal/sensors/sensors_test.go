package sensors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/sampler"
)

var testTopics = entity.NewTopics("home/nodes", "homeassistant", "box")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// neverTick keeps samplers idle so tests control every value.
func neverTick(time.Duration) <-chan time.Time { return nil }

func TestDeriveCPUUsage(t *testing.T) {
	t.Parallel()
	prev := CPUTimes{
		Total:  cpu.TimesStat{User: 100, System: 20},
		PerCPU: []cpu.TimesStat{{User: 50, System: 10}, {User: 50, System: 10}},
	}
	cur := CPUTimes{
		Total:  cpu.TimesStat{User: 130, System: 20, Nice: 6},
		PerCPU: []cpu.TimesStat{{User: 80, System: 10}, {User: 50, System: 16}},
	}

	got := DeriveCPUUsage(prev, cur, 60*time.Second)
	// 36s busy over 60s across 2 cores = 30%.
	if got.Total != 30.0 {
		t.Errorf("Total = %v, want 30.0", got.Total)
	}
	if want := []float64{50.0, 10.0}; !reflect.DeepEqual(got.PerCPU, want) {
		t.Errorf("PerCPU = %v, want %v", got.PerCPU, want)
	}
}

func TestDeriveCPUUsage_SingleCoreOmitsPerCPU(t *testing.T) {
	t.Parallel()
	prev := CPUTimes{Total: cpu.TimesStat{User: 10}, PerCPU: []cpu.TimesStat{{User: 10}}}
	cur := CPUTimes{Total: cpu.TimesStat{User: 13}, PerCPU: []cpu.TimesStat{{User: 13}}}

	got := DeriveCPUUsage(prev, cur, 60*time.Second)
	if got.Total != 5.0 {
		t.Errorf("Total = %v, want 5.0", got.Total)
	}
	if got.PerCPU != nil {
		t.Errorf("PerCPU = %v, want nil on a single core", got.PerCPU)
	}
}

func TestDeriveNetRates(t *testing.T) {
	t.Parallel()
	prev := NetCounters{
		"eth0": {Name: "eth0", BytesRecv: 1000, BytesSent: 0},
	}
	cur := NetCounters{
		"eth0":  {Name: "eth0", BytesRecv: 1600, BytesSent: 0},
		"wlan0": {Name: "wlan0", BytesRecv: 5000},
	}

	got := DeriveNetRates(prev, cur, 60*time.Second)
	want := NetRates{"eth0": {BytesIn: 10, BytesOut: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeriveNetRates() = %v, want %v", got, want)
	}
}

func TestNet_DiscoveryPerInterface(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	read := func(context.Context) (NetCounters, error) {
		return NetCounters{"wlan0": {}, "eth0": {}}, nil
	}
	n, err := NewNet(ctx, testTopics, sampler.Options{After: neverTick, Logger: quietLogger()}, read)
	if err != nil {
		t.Fatalf("NewNet() error = %v", err)
	}

	d := n.Discovery()
	if len(d) != 4 {
		t.Fatalf("got %d descriptors, want 4", len(d))
	}
	if d[0].ID != "net_eth0_bytes_in" || d[3].ID != "net_wlan0_bytes_out" {
		t.Errorf("descriptor ids = %q .. %q, want sorted by interface", d[0].ID, d[3].ID)
	}
	if n.Topic() != "home/nodes/box/net" {
		t.Errorf("Topic() = %q", n.Topic())
	}
}

func TestReadNetCounters_SkipsLoopback(t *testing.T) {
	// Exercised against the live host; only the loopback filter is checked.
	counters, err := ReadNetCounters(context.Background())
	if err != nil {
		t.Skipf("interface counters unavailable: %v", err)
	}
	if _, ok := counters["lo"]; ok {
		t.Error("loopback should be excluded")
	}
}

func TestCPU_Discovery(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	read := func(context.Context) (CPUTimes, error) {
		return CPUTimes{PerCPU: make([]cpu.TimesStat, 4)}, nil
	}
	c, err := NewCPU(ctx, testTopics, sampler.Options{After: neverTick, Logger: quietLogger()}, read)
	if err != nil {
		t.Fatalf("NewCPU() error = %v", err)
	}

	d := c.Discovery()
	if len(d) != 5 {
		t.Fatalf("got %d descriptors, want 5 (total + 4 cores)", len(d))
	}
	if d[0].ID != "cpu" || d[0].EntityCategory != "" {
		t.Errorf("total descriptor = %+v", d[0])
	}
	if d[4].ID != "cpu_3" || d[4].ValueTemplate != "{{ value_json.per_cpu[3] }}" {
		t.Errorf("last core descriptor = %+v", d[4])
	}
	if d[1].Precision == nil || *d[1].Precision != 1 {
		t.Error("cpu descriptors should carry display precision 1")
	}
}

func TestCPU_InitialReadFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("no /proc")
	_, err := NewCPU(context.Background(), testTopics, sampler.Options{}, func(context.Context) (CPUTimes, error) {
		return CPUTimes{}, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("NewCPU() error = %v, want wrapping %v", err, boom)
	}
}

type fakeMemory struct {
	vm *mem.VirtualMemoryStat
	sw *mem.SwapMemoryStat
}

func (f fakeMemory) VirtualMemory(context.Context) (*mem.VirtualMemoryStat, error) { return f.vm, nil }
func (f fakeMemory) SwapMemory(context.Context) (*mem.SwapMemoryStat, error)       { return f.sw, nil }

func TestMemory_Status(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		vm   mem.VirtualMemoryStat
		want uint64
	}{
		{"uses available", mem.VirtualMemoryStat{Total: 8192 * 1024, Free: 1024 * 1024, Available: 4096 * 1024}, 4096},
		{"falls back to free", mem.VirtualMemoryStat{Total: 8192 * 1024, Free: 1024 * 1024}, 7168},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(testTopics, fakeMemory{vm: &tt.vm, sw: &mem.SwapMemoryStat{Total: 2048 * 1024, Free: 512 * 1024}})
			got, err := m.Status(context.Background())
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			st := got.(MemoryStatus)
			if st.MemUse != tt.want {
				t.Errorf("MemUse = %d, want %d", st.MemUse, tt.want)
			}
			if st.SwapUse != 1536 || st.SwapFree != 512 {
				t.Errorf("swap = %d/%d, want 1536/512", st.SwapUse, st.SwapFree)
			}
		})
	}
}

func TestDiskAndLoad_Status(t *testing.T) {
	t.Parallel()
	d := NewDisk(testTopics)
	d.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		if path != "/" {
			t.Errorf("usage path = %q, want /", path)
		}
		return &disk.UsageStat{Used: 100, Free: 50}, nil
	}
	got, err := d.Status(context.Background())
	if err != nil || got.(DiskStatus) != (DiskStatus{DiskUse: 100, DiskFree: 50}) {
		t.Errorf("disk Status() = %v, %v", got, err)
	}

	l := NewLoad(testTopics)
	l.avg = func(context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 0.5, Load5: 0.25, Load15: 0.1}, nil
	}
	got, err = l.Status(context.Background())
	if err != nil || got.(LoadStatus) != (LoadStatus{Load1: 0.5, Load5: 0.25, Load15: 0.1}) {
		t.Errorf("load Status() = %v, %v", got, err)
	}
	if ids := []string{l.Discovery()[0].ID, l.Discovery()[2].ID}; ids[0] != "load_1min" || ids[1] != "load_15min" {
		t.Errorf("load ids = %v", ids)
	}
}

const aptOutput = `Reading package lists...
Building dependency tree...
The following packages will be upgraded:
  curl libcurl4
2 upgraded, 0 newly installed, 0 to remove and 0 not upgraded.
Inst curl [7.81.0-1ubuntu1.15] (7.81.0-1ubuntu1.16 Ubuntu:22.04/jammy-updates [amd64])
Inst libcurl4 [7.81.0-1ubuntu1.15] (7.81.0-1ubuntu1.16 Ubuntu:22.04/jammy-updates [amd64])
Conf curl (7.81.0-1ubuntu1.16 Ubuntu:22.04/jammy-updates [amd64])
`

func TestParseAptUpgrades(t *testing.T) {
	t.Parallel()
	got, err := ParseAptUpgrades(strings.NewReader(aptOutput))
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"curl", "libcurl4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ParseAptUpgrades() = %v, want %v", got, want)
	}
}

func TestApt_Status(t *testing.T) {
	t.Parallel()
	a := NewApt(testTopics)
	a.run = func(context.Context) ([]byte, error) { return []byte(aptOutput), nil }

	got, err := a.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st := got.(AptStatus); st.State != 2 {
		t.Errorf("State = %d, want 2", st.State)
	}

	boom := errors.New("apt locked")
	a.run = func(context.Context) ([]byte, error) { return nil, boom }
	if _, err := a.Status(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Status() error = %v, want %v", err, boom)
	}
}

func TestReboot_Status(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := NewReboot(testTopics, quietLogger())
	r.markerPath = filepath.Join(dir, "reboot-required")
	r.packagesPath = filepath.Join(dir, "reboot-required.pkgs")

	got, err := r.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.(RebootStatus).State {
		t.Error("State = true without marker file")
	}

	if err := os.WriteFile(r.markerPath, []byte("*** System restart required ***\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(r.packagesPath, []byte("linux-image-6.8.0\nlibc6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = r.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	st := got.(RebootStatus)
	if !st.State || !reflect.DeepEqual(st.Attrs.Packages, []string{"linux-image-6.8.0", "libc6"}) {
		t.Errorf("Status() = %+v", st)
	}
	if !r.Discovery()[0].Binary {
		t.Error("reboot descriptor should be binary")
	}
}

func TestMonitor_Status(t *testing.T) {
	t.Parallel()
	m := NewMonitor(testTopics)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) }

	got, _ := m.Status(context.Background())
	if got != "2026-03-01T11:00:00Z" {
		t.Errorf("Status() = %v", got)
	}
	if m.Topic() != "home/nodes/box/monitor" {
		t.Errorf("Topic() = %q", m.Topic())
	}
}
