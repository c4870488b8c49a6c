package sensors

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/sampler"
)

// NetCounters maps interface name to its cumulative byte counters.
type NetCounters map[string]psnet.IOCountersStat

// InterfaceRate is the throughput of one interface in bytes per second.
type InterfaceRate struct {
	BytesIn  float64 `json:"bytes_in"`
	BytesOut float64 `json:"bytes_out"`
}

// NetRates maps interface name to its throughput over one window.
type NetRates map[string]InterfaceRate

// ReadNetCounters reads per-interface counters, skipping loopback.
func ReadNetCounters(ctx context.Context) (NetCounters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read interface counters: %w", err)
	}
	out := make(NetCounters, len(stats))
	for _, s := range stats {
		if s.Name == "lo" {
			continue
		}
		out[s.Name] = s
	}
	return out, nil
}

// DeriveNetRates computes per-interface throughput. Interfaces missing
// from either snapshot are omitted.
func DeriveNetRates(prev, cur NetCounters, elapsed time.Duration) NetRates {
	rates := make(NetRates, len(cur))
	for name, c := range cur {
		p, ok := prev[name]
		if !ok {
			continue
		}
		rates[name] = InterfaceRate{
			BytesIn:  math.Round(sampler.Rate(p.BytesRecv, c.BytesRecv, elapsed)),
			BytesOut: math.Round(sampler.Rate(p.BytesSent, c.BytesSent, elapsed)),
		}
	}
	return rates
}

// Net reports per-interface throughput. The interface set is fixed by
// the first snapshot.
type Net struct {
	topic      string
	interfaces []string
	sampler    *sampler.Sampler[NetCounters, NetRates]
}

// NewNet takes the first counter snapshot and starts sampling. A nil
// read uses [ReadNetCounters].
func NewNet(ctx context.Context, topics entity.Topics, opts sampler.Options, read sampler.ReadFunc[NetCounters]) (*Net, error) {
	if read == nil {
		read = ReadNetCounters
	}
	opts.Name = "net"
	first, err := read(ctx)
	if err != nil {
		return nil, fmt.Errorf("create network sensor: %w", err)
	}
	ifaces := make([]string, 0, len(first))
	for name := range first {
		ifaces = append(ifaces, name)
	}
	slices.Sort(ifaces)

	return &Net{
		topic:      topics.Sensor("net"),
		interfaces: ifaces,
		sampler:    sampler.StartFrom(ctx, opts, first, read, DeriveNetRates),
	}, nil
}

func (n *Net) Topic() string { return n.topic }

func (n *Net) Discovery() []entity.SensorDescriptor {
	out := make([]entity.SensorDescriptor, 0, 2*len(n.interfaces))
	for _, iface := range n.interfaces {
		out = append(out,
			entity.SensorDescriptor{
				ID:            fmt.Sprintf("net_%s_bytes_in", iface),
				Name:          fmt.Sprintf("Network %s throughput in", iface),
				Icon:          "mdi:download-network",
				DeviceClass:   "data_rate",
				StateClass:    "measurement",
				Unit:          "B/s",
				ValueTemplate: fmt.Sprintf("{{ value_json['%s'].bytes_in }}", iface),
			},
			entity.SensorDescriptor{
				ID:            fmt.Sprintf("net_%s_bytes_out", iface),
				Name:          fmt.Sprintf("Network %s throughput out", iface),
				Icon:          "mdi:upload-network",
				DeviceClass:   "data_rate",
				StateClass:    "measurement",
				Unit:          "B/s",
				ValueTemplate: fmt.Sprintf("{{ value_json['%s'].bytes_out }}", iface),
			},
		)
	}
	return out
}

// Status waits for the next completed sampling window.
func (n *Net) Status(ctx context.Context) (any, error) {
	return n.sampler.Next(ctx)
}
