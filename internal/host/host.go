// Package host collects the identity of the machine the agent runs on:
// hostname and slug, the derived machine identifier, hardware vendor and
// model, OS version, and MAC connection descriptors.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pshost "github.com/shirou/gopsutil/v3/host"
)

// Info is the collected host identity. It is gathered once at startup.
type Info struct {
	Hostname     string
	Slug         string
	MachineID    string
	Manufacturer string
	Model        string
	OSVersion    string
	Connections  []Connection
}

// Options overrides the default system sources; zero values use the
// real host.
type Options struct {
	MachineIDPath string
	DMIDir        string
	DataDir       string
	Interfaces    InterfaceLister
	HostInfo      func(ctx context.Context) (*pshost.InfoStat, error)
	Logger        *slog.Logger
}

// Collect gathers the host identity. Missing DMI data or interface
// listing failures are logged and leave those fields empty; a hostname
// or machine id failure is returned.
func Collect(ctx context.Context, opts Options) (Info, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hostInfo := opts.HostInfo
	if hostInfo == nil {
		hostInfo = pshost.InfoWithContext
	}

	hi, err := hostInfo(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("read host info: %w", err)
	}
	if hi.Hostname == "" {
		return Info{}, fmt.Errorf("read host info: empty hostname")
	}

	id, err := MachineID(opts.MachineIDPath, opts.DataDir)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Hostname:  hi.Hostname,
		Slug:      Slug(hi.Hostname),
		MachineID: id.String(),
		OSVersion: osVersion(hi),
	}
	info.Manufacturer, info.Model = ReadDMI(opts.DMIDir)

	conns, err := MACConnections(ctx, opts.Interfaces)
	if err != nil {
		logger.Warn("failed to list network interfaces", "error", err)
	}
	info.Connections = conns

	logger.Info("host identity collected",
		"hostname", info.Hostname,
		"machine_id", info.MachineID,
		"connections", len(info.Connections),
	)
	return info, nil
}

func osVersion(hi *pshost.InfoStat) string {
	parts := []string{hi.Platform, hi.PlatformVersion}
	return strings.TrimSpace(strings.Join(parts, " "))
}
