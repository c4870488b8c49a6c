package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// bridgeSignals returns a channel closed on the first SIGINT or SIGTERM.
// A single goroutine owns the signal subscription; later signals are
// only logged. The subscription ends when ctx is done.
func bridgeSignals(ctx context.Context, logger *slog.Logger) <-chan struct{} {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	return bridge(ctx, sigs, func() { signal.Stop(sigs) }, logger)
}

// bridge closes the returned channel once for the first value on sigs.
func bridge(ctx context.Context, sigs <-chan os.Signal, release func(), logger *slog.Logger) <-chan struct{} {
	terminate := make(chan struct{})
	var once sync.Once
	go func() {
		defer release()
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				fired := false
				once.Do(func() {
					close(terminate)
					fired = true
				})
				if fired {
					logger.Info("shutdown signal received", "signal", sig.String())
				} else {
					logger.Warn("shutdown already in progress", "signal", sig.String())
				}
			}
		}
	}()
	return terminate
}
