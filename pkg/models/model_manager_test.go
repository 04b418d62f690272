package models

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/stt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func modelConfig(name string) *stt.ModelConfig {
	c := stt.NewModelConfig()
	c.ModelSizeOrPath = name
	c.Device = stt.DeviceCPU
	return c
}

func newTestManager(e stt.Engine) *ModelManager {
	return NewModelManager(&config.AppConfig{}, e, testLogger())
}

func TestModelManager_StatusExample(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(newFakeEngine())

	st, err := m.Describe(ctx)
	require.NoError(t, err)
	assert.False(t, st.Loaded)
	assert.Nil(t, st.Config)

	require.NoError(t, m.Load(ctx, modelConfig("base.en")))
	st, err = m.Describe(ctx)
	require.NoError(t, err)
	assert.True(t, st.Loaded)
	assert.Equal(t, "base.en", st.Config.ModelSizeOrPath)
	assert.Equal(t, stt.DeviceCPU, st.Config.Device)

	require.NoError(t, m.Unload(ctx))
	st, err = m.Describe(ctx)
	require.NoError(t, err)
	assert.False(t, st.Loaded)
	assert.Nil(t, st.Config)

	err = m.WithLoadedModel(ctx, func(stt.Model) error { return nil })
	assert.ErrorIs(t, err, stt.ErrNoModelLoaded)
}

func TestModelManager_IdempotentLoad(t *testing.T) {
	ctx := context.Background()
	e := newFakeEngine()
	m := newTestManager(e)

	require.NoError(t, m.Load(ctx, modelConfig("small")))
	require.NoError(t, m.Load(ctx, modelConfig("small")))
	assert.Equal(t, 1, e.loadCount())
	assert.Equal(t, []string{"small"}, e.openHandles())
}

func TestModelManager_ReplacingLoad(t *testing.T) {
	ctx := context.Background()
	e := newFakeEngine()
	m := newTestManager(e)

	require.NoError(t, m.Load(ctx, modelConfig("small")))
	require.NoError(t, m.Load(ctx, modelConfig("medium")))
	assert.Equal(t, []string{"medium"}, e.openHandles())

	st, err := m.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "medium", st.Config.ModelSizeOrPath)

	// a changed option is a different model
	cfg := modelConfig("medium")
	cfg.CPUThreads = 8
	require.NoError(t, m.Load(ctx, cfg))
	assert.Equal(t, 3, e.loadCount())
	assert.Len(t, e.openHandles(), 1)
}

func TestModelManager_FailedLoadLeavesIdle(t *testing.T) {
	ctx := context.Background()
	e := newFakeEngine()
	e.failOn = "broken"
	m := newTestManager(e)

	require.NoError(t, m.Load(ctx, modelConfig("small")))
	err := m.Load(ctx, modelConfig("broken"))
	require.ErrorIs(t, err, stt.ErrModelLoad)
	assert.ErrorContains(t, err, "weights are corrupt")

	assert.Empty(t, e.openHandles())
	st, err := m.Describe(ctx)
	require.NoError(t, err)
	assert.False(t, st.Loaded)

	// a retry of the previous model loads it again
	require.NoError(t, m.Load(ctx, modelConfig("small")))
	assert.Equal(t, []string{"small"}, e.openHandles())
}

func TestModelManager_UnloadIdle(t *testing.T) {
	m := newTestManager(newFakeEngine())
	assert.NoError(t, m.Unload(context.Background()))
	assert.NoError(t, m.Unload(context.Background()))
}

func TestModelManager_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(newFakeEngine())
	require.NoError(t, m.Load(ctx, modelConfig("small")))

	st, err := m.Describe(ctx)
	require.NoError(t, err)
	st.Config.ModelSizeOrPath = "tampered"

	st, err = m.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "small", st.Config.ModelSizeOrPath)
}

func TestModelManager_LockHonoursContext(t *testing.T) {
	m := newTestManager(newFakeEngine())
	require.NoError(t, m.Load(context.Background(), modelConfig("small")))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithLoadedModel(context.Background(), func(stt.Model) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Describe(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = m.Describe(context.Background())
	assert.NoError(t, err)
}

func TestModelManager_Shutdown(t *testing.T) {
	e := newFakeEngine()
	m := newTestManager(e)
	require.NoError(t, m.Load(context.Background(), modelConfig("small")))

	m.Shutdown()
	assert.Empty(t, e.openHandles())
}
