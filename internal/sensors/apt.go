package sensors

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/nugget/hostreporter/internal/entity"
)

var aptInst = regexp.MustCompile(`^Inst ([^ ]+)`)

// PackageAttrs is the attribute payload listing package names.
type PackageAttrs struct {
	Packages []string `json:"packages,omitempty"`
}

// AptStatus is the number of pending upgrades and their names.
type AptStatus struct {
	State int          `json:"state"`
	Attrs PackageAttrs `json:"attrs"`
}

// ParseAptUpgrades extracts package names from the "Inst" lines of an
// apt-get simulated upgrade.
func ParseAptUpgrades(r io.Reader) ([]string, error) {
	var pkgs []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if m := aptInst.FindStringSubmatch(sc.Text()); m != nil {
			pkgs = append(pkgs, m[1])
		}
	}
	return pkgs, sc.Err()
}

// runAptSimulate runs apt-get in simulation mode with a C locale so
// the output format is stable.
func runAptSimulate(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "apt-get", "--just-print", "upgrade")
	cmd.Env = append(os.Environ(), "LANG=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("apt-get --just-print upgrade: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Apt reports the number of pending APT upgrades.
type Apt struct {
	topic string
	run   func(ctx context.Context) ([]byte, error)
}

// NewApt returns the APT sensor.
func NewApt(topics entity.Topics) *Apt {
	return &Apt{topic: topics.Sensor("apt"), run: runAptSimulate}
}

func (a *Apt) Topic() string { return a.topic }

func (a *Apt) Discovery() []entity.SensorDescriptor {
	return []entity.SensorDescriptor{{
		ID:                 "apt",
		Name:               "APT pending upgrades",
		Icon:               "mdi:update",
		StateClass:         "measurement",
		ValueTemplate:      "{{ value_json.state }}",
		AttributesTemplate: "{{ value_json.attrs | tojson }}",
	}}
}

func (a *Apt) Status(ctx context.Context) (any, error) {
	out, err := a.run(ctx)
	if err != nil {
		return nil, err
	}
	pkgs, err := ParseAptUpgrades(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("parse apt-get output: %w", err)
	}
	return AptStatus{State: len(pkgs), Attrs: PackageAttrs{Packages: pkgs}}, nil
}
