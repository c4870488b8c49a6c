package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/hostreporter/internal/entity"
)

// Default Debian/Ubuntu marker files written by package hooks.
const (
	DefaultRebootRequiredPath = "/var/run/reboot-required"
	DefaultRebootPkgsPath     = "/var/run/reboot-required.pkgs"
)

// RebootStatus reports whether a reboot is pending and which packages
// asked for it.
type RebootStatus struct {
	State bool         `json:"state"`
	Attrs PackageAttrs `json:"attrs"`
}

// Reboot is a binary sensor for a pending reboot.
type Reboot struct {
	topic        string
	markerPath   string
	packagesPath string
	logger       *slog.Logger
}

// NewReboot returns the reboot-required sensor.
func NewReboot(topics entity.Topics, logger *slog.Logger) *Reboot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reboot{
		topic:        topics.Sensor("reboot"),
		markerPath:   DefaultRebootRequiredPath,
		packagesPath: DefaultRebootPkgsPath,
		logger:       logger,
	}
}

func (r *Reboot) Topic() string { return r.topic }

func (r *Reboot) Discovery() []entity.SensorDescriptor {
	return []entity.SensorDescriptor{{
		ID:                 "reboot",
		Name:               "Reboot required",
		Icon:               "mdi:restart",
		Binary:             true,
		ValueTemplate:      "{{ 'ON' if value_json.state else 'OFF' }}",
		AttributesTemplate: "{{ value_json.attrs | tojson }}",
	}}
}

// Status checks the marker file. A package list that cannot be read is
// logged and reported as empty.
func (r *Reboot) Status(ctx context.Context) (any, error) {
	_, err := os.Stat(r.markerPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return RebootStatus{}, nil
	case err != nil:
		return nil, fmt.Errorf("check %s: %w", r.markerPath, err)
	}

	pkgs, err := readLines(r.packagesPath)
	if err != nil {
		r.logger.Warn("failed to read reboot packages", "path", r.packagesPath, "error", err)
		pkgs = nil
	}
	return RebootStatus{State: true, Attrs: PackageAttrs{Packages: pkgs}}, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
