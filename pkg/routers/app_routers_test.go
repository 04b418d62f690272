package routers

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/plugnmeet-stt/pkg/config"
	"github.com/mynaparrot/plugnmeet-stt/pkg/factory"
	"github.com/mynaparrot/plugnmeet-stt/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T, prometheus bool) (*fiber.App, *config.AppConfig) {
	t.Helper()
	appCnf, err := config.New(&config.AppConfig{
		RootWorkingDir: t.TempDir(),
		Client: config.ClientInfo{
			PrometheusConf: config.PrometheusConf{Enable: prometheus},
		},
		AudioSettings: config.AudioSettings{SharedPath: "audio"},
		ModelSettings: config.ModelSettings{CachePath: "models"},
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	appCnf.Logger = logger

	appFactory, err := factory.NewAppFactory(context.Background(), appCnf)
	require.NoError(t, err)
	t.Cleanup(appFactory.Shutdown)

	return New(appCnf, appFactory.Controllers), appCnf
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRoutes(t *testing.T) {
	app, _ := setupRouter(t, false)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthCheck", status: http.StatusOK, body: "Healthy"},
		{path: "/status", status: http.StatusOK, body: `"service_status":"idle_no_model"`},
		{path: "/ws/logs", status: http.StatusUpgradeRequired},
		{path: "/metrics", status: http.StatusNotFound, body: "not found"},
		{path: "/nothing/here", status: http.StatusNotFound, body: "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, app, tt.path)
			assert.Equal(t, tt.status, status)
			if tt.body != "" {
				assert.Contains(t, body, tt.body)
			}
		})
	}
}

func TestRoutes_UnloadWhenIdle(t *testing.T) {
	app, _ := setupRouter(t, false)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/unload_model", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_Metrics(t *testing.T) {
	app, _ := setupRouter(t, true)

	status, _ := get(t, app, "/healthCheck")
	require.Equal(t, http.StatusOK, status)

	status, body := get(t, app, config.DefaultMetricsPath)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "plugnmeet_stt_model_loaded")
	assert.Contains(t, body, "http_requests_total")
}

func readLogRecord(t *testing.T, conn *websocket.Conn) *logging.LogRecord {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)

	rec := new(logging.LogRecord)
	require.NoError(t, json.Unmarshal(msg, rec))
	return rec
}

func TestLogStream(t *testing.T) {
	app, appCnf := setupRouter(t, false)

	url := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the first line a subscriber gets is its own connect message
	rec := readLogRecord(t, conn)
	assert.Equal(t, logging.LogRecordType, rec.Type)
	assert.Equal(t, "INFO", rec.Level)
	assert.Equal(t, "stt_service.log_stream", rec.LoggerName)
	assert.Contains(t, rec.Message, "Log WebSocket client connected")

	appCnf.Logger.WithField("model", "model_manager").Warnln("disk is getting full")
	for {
		rec = readLogRecord(t, conn)
		if strings.Contains(rec.Message, "disk is getting full") {
			break
		}
	}
	assert.Equal(t, "WARNING", rec.Level)
	assert.Equal(t, "stt_service.model_manager", rec.LoggerName)
	assert.Positive(t, rec.Timestamp)
}

func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})
	return "ws://" + ln.Addr().String() + "/ws/logs"
}

// Clients come and go while other goroutines keep logging; run with -race.
func TestLogStream_ChurnWhileLogging(t *testing.T) {
	app, appCnf := setupRouter(t, false)
	url := serve(t, app)

	stop := make(chan struct{})
	var loggers sync.WaitGroup
	for i := range 4 {
		loggers.Go(func() {
			for {
				select {
				case <-stop:
					return
				case <-time.After(time.Millisecond):
					appCnf.Logger.WithField("model", "churn").Infof("tick from %d", i)
				}
			}
		})
	}

	var clients sync.WaitGroup
	for range 16 {
		clients.Go(func() {
			for range 5 {
				conn, _, err := websocket.DefaultDialer.Dial(url, nil)
				if !assert.NoError(t, err) {
					return
				}
				_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				_, _, err = conn.ReadMessage()
				assert.NoError(t, err)
				_ = conn.Close()
			}
		})
	}
	clients.Wait()
	close(stop)
	loggers.Wait()

	// pooled connections are reused cleanly after the churn
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	rec := readLogRecord(t, conn)
	assert.Equal(t, logging.LogRecordType, rec.Type)
}
