// Package commands implements the actions Home Assistant can trigger on
// the host through button entities.
package commands

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/nugget/hostreporter/internal/entity"
)

// Runner executes a program and returns its stderr on failure.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the program with os/exec. A non-zero exit surfaces the
// trimmed stderr in the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// Systemctl triggers a systemctl power action through non-interactive
// sudo.
type Systemctl struct {
	topic      string
	descriptor entity.CommandDescriptor
	action     string
	run        Runner
	logger     *slog.Logger
}

func newSystemctl(topics entity.Topics, action string, d entity.CommandDescriptor, run Runner, logger *slog.Logger) *Systemctl {
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Systemctl{
		topic:      topics.Command(d.ID),
		descriptor: d,
		action:     action,
		run:        run,
		logger:     logger,
	}
}

// NewReboot returns the reboot button.
func NewReboot(topics entity.Topics, run Runner, logger *slog.Logger) *Systemctl {
	return newSystemctl(topics, "reboot", entity.CommandDescriptor{
		ID:          "reboot",
		Name:        "Reboot System",
		Icon:        "mdi:restart",
		DeviceClass: "restart",
	}, run, logger)
}

// NewSuspend returns the suspend button.
func NewSuspend(topics entity.Topics, run Runner, logger *slog.Logger) *Systemctl {
	return newSystemctl(topics, "suspend", entity.CommandDescriptor{
		ID:   "suspend",
		Name: "Suspend System",
		Icon: "mdi:sleep",
	}, run, logger)
}

func (s *Systemctl) Topic() string { return s.topic }

func (s *Systemctl) Discovery() []entity.CommandDescriptor {
	return []entity.CommandDescriptor{s.descriptor}
}

// Execute runs `sudo -n /usr/bin/systemctl <action>`.
func (s *Systemctl) Execute(ctx context.Context) error {
	s.logger.Info("executing command", "command", s.descriptor.ID)
	if err := s.run(ctx, "sudo", "-n", "/usr/bin/systemctl", s.action); err != nil {
		return fmt.Errorf("%s command failed: %w", s.action, err)
	}
	return nil
}

// Build returns every command.
func Build(topics entity.Topics, logger *slog.Logger) []entity.Command {
	return []entity.Command{
		NewReboot(topics, nil, logger),
		NewSuspend(topics, nil, logger),
	}
}
