package models

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/metrics"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ModelStatus is a consistent snapshot of the manager state.
type ModelStatus struct {
	Loaded bool
	Config *stt.ModelConfig
}

// ModelManager owns the single loaded model. The state is either Idle
// (handle == nil) or Loaded; every read and transition holds lock.
type ModelManager struct {
	app    *config.AppConfig
	engine stt.Engine
	logger *logrus.Entry

	lock   *semaphore.Weighted
	handle stt.Model
	loaded *stt.ModelConfig
}

func NewModelManager(app *config.AppConfig, engine stt.Engine, logger *logrus.Logger) *ModelManager {
	return &ModelManager{
		app:    app,
		engine: engine,
		lock:   semaphore.NewWeighted(1),
		logger: logger.WithField("model", "model_manager"),
	}
}

func (m *ModelManager) Describe(ctx context.Context) (*ModelStatus, error) {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.lock.Release(1)

	if m.handle == nil {
		return &ModelStatus{}, nil
	}
	return &ModelStatus{Loaded: true, Config: m.loaded.Clone()}, nil
}

func (m *ModelManager) Load(ctx context.Context, cfg *stt.ModelConfig) error {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.lock.Release(1)

	if m.handle != nil && m.loaded.Equal(cfg) {
		m.logger.Infof("Model '%s' is already loaded.", cfg.ModelSizeOrPath)
		metrics.ModelLoads.WithLabelValues(metrics.ResultNoop).Inc()
		return nil
	}

	m.unloadLocked()

	m.logger.Infof("Attempting to load model with config: %+v", *cfg)
	start := time.Now()
	handle, err := m.engine.Load(ctx, cfg.Clone())
	if err != nil {
		m.logger.WithError(err).Errorf("Failed to load model '%s'", cfg.ModelSizeOrPath)
		metrics.ModelLoads.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("%w: %w", stt.ErrModelLoad, err)
	}

	m.handle = handle
	m.loaded = cfg.Clone()
	elapsed := time.Since(start)
	metrics.ModelLoads.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.ModelLoadSeconds.Observe(elapsed.Seconds())
	metrics.ModelLoaded.Set(1)
	m.logger.Infof("Successfully loaded model '%s' in %.2fs.", cfg.ModelSizeOrPath, elapsed.Seconds())
	return nil
}

func (m *ModelManager) Unload(ctx context.Context) error {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.lock.Release(1)

	m.unloadLocked()
	return nil
}

// unloadLocked is the only way a handle is released; the caller holds lock.
func (m *ModelManager) unloadLocked() {
	if m.handle == nil {
		return
	}
	m.logger.Infof("Unloading model: %s", m.loaded.ModelSizeOrPath)
	if err := m.handle.Close(); err != nil {
		m.logger.WithError(err).Warnln("closing model handle")
	}
	m.handle = nil
	m.loaded = nil

	runtime.GC()
	debug.FreeOSMemory()
	metrics.ModelLoaded.Set(0)
	m.logger.Infoln("Model unloaded and resources released.")
}

// WithLoadedModel runs fn with the loaded handle while holding the lock.
// fn must only hand work off; it must not wait for results.
func (m *ModelManager) WithLoadedModel(ctx context.Context, fn func(model stt.Model) error) error {
	if err := m.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.lock.Release(1)

	if m.handle == nil {
		return stt.ErrNoModelLoaded
	}
	return fn(m.handle)
}

// Shutdown unloads whatever is loaded, waiting for any in-progress handoff.
func (m *ModelManager) Shutdown() {
	_ = m.Unload(context.Background())
}
