// Package provider adapts model backends to the generation, image, vision and
// embedding contracts and tracks their health.
package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthWatchdog periodically checks the health of registered providers.
type HealthWatchdog struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHealthWatchdog creates a new HealthWatchdog.
func NewHealthWatchdog(registry *Registry, interval time.Duration, logger *zap.Logger) *HealthWatchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthWatchdog{
		registry: registry,
		interval: interval,
		logger:   logger.With(zap.String("component", "HealthWatchdog")),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one check immediately, then one per interval until Stop.
func (w *HealthWatchdog) Start() {
	go func() {
		defer close(w.done)
		w.CheckOnce()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.CheckOnce()
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop halts the health monitoring loop and waits for it to exit.
func (w *HealthWatchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

// CheckOnce pings every provider that supports it. Providers without a
// health endpoint are marked active.
func (w *HealthWatchdog) CheckOnce() {
	for _, provider := range w.registry.List() {
		if provider.Config == nil {
			continue
		}
		id := provider.Config.ID
		pinger, ok := provider.Impl.(Pinger)
		if !ok {
			w.registry.UpdateHeartbeat(id, 0, nil)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		start := time.Now()
		err := pinger.Ping(ctx)
		cancel()

		w.registry.UpdateHeartbeat(id, time.Since(start), err)
		if err != nil {
			w.logger.Warn("provider failed health check", zap.String("provider", id), zap.Error(err))
		} else {
			w.logger.Debug("provider healthy", zap.String("provider", id))
		}
	}
}
