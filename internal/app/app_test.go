package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JakeFAU/parmon/internal/config"
	"github.com/JakeFAU/parmon/internal/monitor"
	memoryStorage "github.com/JakeFAU/parmon/internal/storage/memory"
	"github.com/JakeFAU/parmon/internal/store"
	"github.com/stretchr/testify/require"
)

func baseConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0},
		Monitor: config.MonitorConfig{
			TotalIterations: 200,
			Workers:         2,
			UpdatePeriod:    10 * time.Millisecond,
			ListenAddr:      "127.0.0.1:0",
			Title:           "app test run",
		},
		Render: config.RenderConfig{
			TerminalEnabled: false,
			LogEnabled:      false,
			SinkTimeout:     time.Second,
		},
		Storage: config.StorageConfig{
			Backend:     "memory",
			Prefix:      "reports",
			ContentType: "application/json",
		},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()

	a, err := Build(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Close(closeCtx))
	})

	require.NotNil(t, a.monitor)
	require.NotNil(t, a.apiServer)
	require.NotNil(t, a.archiver)
	require.Equal(t, monitor.RoleAggregator, a.monitor.Role())
	require.NotEmpty(t, a.monitor.Addr())
	require.IsType(t, &memoryStorage.RunStore{}, a.runRepo)
	require.Nil(t, a.pubsubClient)
	require.Nil(t, a.storageClient)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	a.apiServer.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
	a.apiServer.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunDrivesPoolToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := baseConfig()
	cfg.Pool.Enabled = true

	a, err := Build(ctx, cfg)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.Run(ctx)
	}()

	runID := a.monitor.RunID()
	require.Eventually(t, func() bool {
		run, err := a.runRepo.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		return run.Status == store.RunCompleted && run.Completed == cfg.Monitor.TotalIterations
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.archiver.Location() != ""
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestBuildRejectsInvalidLoop(t *testing.T) {
	cfg := baseConfig()
	cfg.Monitor.TotalIterations = 0

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "monitor init failed")
}

func TestBuildRejectsBrokenLocalStorage(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = ""

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "local blob store init failed")
}
