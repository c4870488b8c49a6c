package sensors

import (
	"context"
	"log/slog"

	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/sampler"
)

// Build creates every host sensor in publishing order. Rate-backed
// sensors start sampling immediately and keep running until ctx is
// cancelled, across broker sessions.
func Build(ctx context.Context, topics entity.Topics, logger *slog.Logger) ([]entity.Sensor, error) {
	opts := sampler.Options{Window: sampler.DefaultWindow, Logger: logger}

	cpu, err := NewCPU(ctx, topics, opts, nil)
	if err != nil {
		return nil, err
	}
	net, err := NewNet(ctx, topics, opts, nil)
	if err != nil {
		return nil, err
	}

	return []entity.Sensor{
		NewMonitor(topics),
		cpu,
		NewMemory(topics, nil),
		NewDisk(topics),
		NewLoad(topics),
		net,
		NewApt(topics),
		NewReboot(topics, logger),
	}, nil
}
