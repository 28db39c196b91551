package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"zerotrust/internal/logger"
	"zerotrust/internal/metrics"
	"zerotrust/pkg/models"
)

// Config configures the Redis pub/sub broadcaster.
type Config struct {
	Addr      string
	Password  string
	DB        int
	ChannelNS string
	QueueSize int
}

type message struct {
	channel string
	payload interface{}
}

// RedisBroadcaster publishes notifications on Redis pub/sub channels. Sends
// go through a bounded queue drained by a background goroutine; when the
// queue is full the message is dropped and counted, never blocking ingestion.
type RedisBroadcaster struct {
	client *redis.Client
	ns     string
	queue  chan message
	done   chan struct{}
}

// NewRedisBroadcaster creates and starts a broadcaster.
func NewRedisBroadcaster(cfg Config) *RedisBroadcaster {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.ChannelNS) == "" {
		cfg.ChannelNS = "zerotrust"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	b := &RedisBroadcaster{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ns:    cfg.ChannelNS,
		queue: make(chan message, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go b.publishLoop()
	return b
}

func (b *RedisBroadcaster) publishLoop() {
	for msg := range b.queue {
		raw, err := json.Marshal(msg.payload)
		if err != nil {
			logger.Warnf("Failed to encode notification for %s: %v", msg.channel, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.client.Publish(ctx, msg.channel, raw).Err(); err != nil {
			logger.Warnf("Dropped notification on %s: %v", msg.channel, err)
			metrics.BroadcastsDropped.Inc()
		}
		cancel()
	}
	close(b.done)
}

func (b *RedisBroadcaster) enqueue(channel string, payload interface{}) {
	select {
	case b.queue <- message{channel: b.ns + ":" + channel, payload: payload}:
	default:
		metrics.BroadcastsDropped.Inc()
	}
}

func (b *RedisBroadcaster) EventAccepted(ev *models.Event) {
	b.enqueue("events", ev)
}

func (b *RedisBroadcaster) AnomalyDetected(rec *models.AnomalyRecord) {
	b.enqueue("anomalies", rec)
}

func (b *RedisBroadcaster) SessionChanged(sess *models.Session, status string) {
	b.enqueue("sessions", map[string]interface{}{
		"session": sess,
		"status":  status,
	})
}

func (b *RedisBroadcaster) TrustUpdated(sessionID string, score, change float64) {
	b.enqueue("trust", map[string]interface{}{
		"session_id": sessionID,
		"score":      score,
		"change":     change,
	})
}

// Close drains queued notifications and releases the client.
func (b *RedisBroadcaster) Close() error {
	close(b.queue)
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
	}
	return b.client.Close()
}
