package controllers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/mynaparrot/plugnmeet-stt/pkg/logging"
	"github.com/mynaparrot/plugnmeet-stt/pkg/metrics"
	"github.com/sirupsen/logrus"
)

type LogStreamController struct {
	broadcaster *logging.Broadcaster
	logger      *logrus.Entry
}

func NewLogStreamController(broadcaster *logging.Broadcaster, logger *logrus.Logger) *LogStreamController {
	return &LogStreamController{
		broadcaster: broadcaster,
		logger:      logger.WithField("controller", "log_stream"),
	}
}

var errSubscriberClosed = errors.New("log subscriber closed")

// wsSubscriber serializes writes. Once closed is set no write touches conn:
// the connection goes back to the websocket pool when the handler returns,
// while a broadcast may still hold this subscriber.
type wsSubscriber struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (s *wsSubscriber) ID() string {
	return s.id
}

// close waits for an in-flight Send and blocks later ones.
func (s *wsSubscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *wsSubscriber) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSubscriberClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := s.conn.SetWriteDeadline(dl); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// HandleLogStream keeps the connection subscribed until the client goes away.
// Incoming messages are read only to notice the disconnect.
func (lc *LogStreamController) HandleLogStream(conn *websocket.Conn) {
	sub := &wsSubscriber{
		id:   uuid.NewString(),
		conn: conn,
	}
	addr := conn.RemoteAddr().String()

	lc.broadcaster.Subscribe(sub)
	metrics.LogSubscribers.Inc()
	lc.logger.WithField("subscriber", sub.id).Infof("Log WebSocket client connected: %s", addr)

	defer func() {
		sub.close()
		lc.broadcaster.Unsubscribe(sub.id)
		metrics.LogSubscribers.Dec()
		lc.logger.WithField("subscriber", sub.id).Infof("Log WebSocket client disconnected: %s", addr)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
