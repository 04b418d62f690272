package logging

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/goccy/go-json"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

const LogRecordType = "log"

// componentFields are the WithField keys used by the service to name the emitting component.
var componentFields = []string{"model", "controller", "service", "engine"}

// LogRecord is the message every log subscriber receives.
type LogRecord struct {
	Type       string  `json:"type"`
	Level      string  `json:"level"`
	Message    string  `json:"message"`
	LoggerName string  `json:"logger_name"`
	Timestamp  float64 `json:"timestamp"`
}

// Subscriber is one open log stream, usually a websocket connection.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
}

// Broadcaster relays log records to every subscriber. It is a logrus.Hook,
// so any goroutine that logs publishes without ever waiting on the network.
type Broadcaster struct {
	loggerName  string
	formatter   logrus.Formatter
	sendTimeout time.Duration
	subscribers *xsync.MapOf[string, Subscriber]

	// delivery runs on a single worker so records keep their order;
	// it is created by the first Publish and lives until Close.
	mu           sync.RWMutex
	closed       bool
	deliveryOnce sync.Once
	delivery     *workerpool.WorkerPool

	// diag reports failed deliveries. It must never carry this hook.
	diag *logrus.Logger
}

func NewBroadcaster(loggerName string, sendTimeout time.Duration) *Broadcaster {
	diag := logrus.New()
	diag.SetOutput(os.Stderr)

	return &Broadcaster{
		loggerName:  loggerName,
		sendTimeout: sendTimeout,
		subscribers: xsync.NewMapOf[string, Subscriber](),
		formatter: &SourceFormatter{
			Underlying: &logrus.TextFormatter{
				DisableColors:    true,
				FullTimestamp:    true,
				CallerPrettyfier: hideCaller,
			},
			TrimNewline: true,
		},
		diag: diag,
	}
}

func (b *Broadcaster) Subscribe(s Subscriber) {
	b.subscribers.Store(s.ID(), s)
}

// Unsubscribe is a no-op for unknown ids.
func (b *Broadcaster) Unsubscribe(id string) {
	b.subscribers.Delete(id)
}

func (b *Broadcaster) NumSubscribers() int {
	return b.subscribers.Size()
}

// Publish never blocks: the record is queued on the delivery worker.
func (b *Broadcaster) Publish(rec *LogRecord) {
	msg, err := json.Marshal(rec)
	if err != nil {
		b.diag.WithError(err).Errorln("failed to marshal log record")
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.executor().Submit(func() {
		b.broadcast(msg)
	})
}

func (b *Broadcaster) executor() *workerpool.WorkerPool {
	b.deliveryOnce.Do(func() {
		b.delivery = workerpool.New(1)
	})
	return b.delivery
}

// broadcast sends msg to all current subscribers at once and drops the ones that fail.
func (b *Broadcaster) broadcast(msg []byte) {
	if b.subscribers.Size() == 0 {
		return
	}

	var wg sync.WaitGroup
	b.subscribers.Range(func(id string, s Subscriber) bool {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
			defer cancel()
			if err := s.Send(ctx, msg); err != nil {
				b.diag.WithError(err).Warnf("error broadcasting log to %s, removing subscriber", id)
				b.subscribers.Delete(id)
			}
		})
		return true
	})
	wg.Wait()
}

// Close waits for queued records to be delivered and stops accepting new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	delivery := b.delivery
	b.mu.Unlock()

	if delivery != nil {
		delivery.StopWait()
	}
}

func (b *Broadcaster) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (b *Broadcaster) Fire(entry *logrus.Entry) error {
	line, err := b.formatter.Format(entry)
	if err != nil {
		return err
	}

	b.Publish(&LogRecord{
		Type:       LogRecordType,
		Level:      strings.ToUpper(entry.Level.String()),
		Message:    string(line),
		LoggerName: b.componentName(entry),
		Timestamp:  float64(entry.Time.UnixNano()) / float64(time.Second),
	})
	return nil
}

// componentName builds a dotted name like "stt_service.model_manager".
func (b *Broadcaster) componentName(entry *logrus.Entry) string {
	for _, f := range componentFields {
		if v, ok := entry.Data[f].(string); ok && v != "" {
			return b.loggerName + "." + v
		}
	}
	return b.loggerName
}
