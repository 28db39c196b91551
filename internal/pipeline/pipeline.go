package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"zerotrust/internal/feature"
	"zerotrust/internal/logger"
	"zerotrust/internal/metrics"
	"zerotrust/internal/notify"
	"zerotrust/internal/rules"
	"zerotrust/internal/scorer"
	"zerotrust/internal/session"
	"zerotrust/internal/store"
	"zerotrust/internal/trust"
	"zerotrust/pkg/models"
)

// ErrUnknownEventType is returned for raw events whose type is not part of
// the behavioral vocabulary. Such events are rejected, never persisted.
var ErrUnknownEventType = errors.New("unknown event type")

// RawEvent is the wire shape accepted by the intake.
type RawEvent struct {
	Type       string                 `json:"type"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// ParseRaw decodes a raw intake payload.
func ParseRaw(data []byte) (*RawEvent, error) {
	var raw RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode raw event: %w", err)
	}
	return &raw, nil
}

// Consumer yields raw event payloads from the intake transport.
type Consumer interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Pipeline turns raw events into persisted, scored events according to the
// current session mode.
type Pipeline struct {
	sessions  *session.Manager
	store     store.Store
	scorer    *scorer.Scorer
	trust     *trust.Engine
	extractor *feature.Extractor
	rules     rules.Engine
	notifier  notify.Broadcaster

	consumer Consumer
	workers  int
	queue    chan []byte
}

// Options carries the pipeline collaborators. Rules and Notifier may be nil.
type Options struct {
	Sessions  *session.Manager
	Store     store.Store
	Scorer    *scorer.Scorer
	Trust     *trust.Engine
	Extractor *feature.Extractor
	Rules     rules.Engine
	Notifier  notify.Broadcaster
	Consumer  Consumer
	Workers   int
	QueueSize int
}

// New builds a pipeline from its collaborators.
func New(opts Options) *Pipeline {
	if opts.Rules == nil {
		opts.Rules = &rules.NoopEngine{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopBroadcaster{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	return &Pipeline{
		sessions:  opts.Sessions,
		store:     opts.Store,
		scorer:    opts.Scorer,
		trust:     opts.Trust,
		extractor: opts.Extractor,
		rules:     opts.Rules,
		notifier:  opts.Notifier,
		consumer:  opts.Consumer,
		workers:   opts.Workers,
		queue:     make(chan []byte, opts.QueueSize),
	}
}

// Ingest processes one raw event end to end and returns the persisted event.
func (p *Pipeline) Ingest(ctx context.Context, raw *RawEvent) (*models.Event, error) {
	eventType, ok := models.ParseEventType(raw.Type)
	if !ok {
		metrics.EventsRejected.Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, raw.Type)
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	sess, release, err := p.sessions.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	defer release()

	ev := &models.Event{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Type:       eventType,
		Attributes: raw.Attributes,
	}
	if sess != nil {
		ev.SessionID = sess.ID
	}
	ev.RuleTags = p.rules.Apply(ev)

	vec := p.extractor.Extract(ev)

	switch {
	case sess == nil:
		// Idle: record the event, no scoring, no corpus.
		if err := p.store.CreateEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("persist event: %w", err)
		}
		metrics.EventsIngested.WithLabelValues("idle").Inc()

	case sess.Mode == models.ModeTraining:
		if err := p.store.CreateEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("persist event: %w", err)
		}
		if err := p.store.AppendCorpus(ctx, store.CorpusExample{
			EventID:   ev.ID,
			EventType: ev.Type,
			Vector:    vec,
			Label:     models.LabelUnknown,
			CreatedAt: ev.Timestamp,
		}); err != nil {
			return nil, fmt.Errorf("append corpus: %w", err)
		}
		metrics.EventsIngested.WithLabelValues("training").Inc()

	case sess.Mode == models.ModeLive:
		if err := p.scoreLive(ctx, ev, vec); err != nil {
			return nil, err
		}
		metrics.EventsIngested.WithLabelValues("live").Inc()
	}

	p.notifier.EventAccepted(ev)
	return ev, nil
}

func (p *Pipeline) scoreLive(ctx context.Context, ev *models.Event, vec []float64) error {
	anomalous, confidence, err := p.scorer.Predict(vec)
	if err != nil {
		return fmt.Errorf("score event: %w", err)
	}

	if !anomalous {
		if err := p.store.CreateEvent(ctx, ev); err != nil {
			return fmt.Errorf("persist event: %w", err)
		}
		return nil
	}

	ev.AnomalyFlag = true
	ev.Confidence = confidence
	// The event row must exist before the deduction: Deduct mutates the
	// score and broadcasts, and the recorded delta is what an operator
	// correction reverses later.
	if err := p.store.CreateEvent(ctx, ev); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	deduction, critical, err := p.trust.Deduct(ctx, ev, confidence)
	if err != nil && !errors.Is(err, trust.ErrNoSession) {
		return fmt.Errorf("apply trust deduction: %w", err)
	}
	if ev.TrustDelta != 0 {
		if err := p.store.CorrectEvent(ctx, ev.ID, true, ev.TrustDelta); err != nil {
			return fmt.Errorf("record trust delta: %w", err)
		}
	}

	rec := &models.AnomalyRecord{
		ID:         uuid.NewString(),
		EventID:    ev.ID,
		SessionID:  ev.SessionID,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
		RuleTags:   ev.RuleTags,
		Vector:     vec,
	}
	if err := p.store.CreateAnomaly(ctx, rec); err != nil {
		return fmt.Errorf("persist anomaly: %w", err)
	}

	metrics.AnomaliesFlagged.WithLabelValues(string(ev.Type)).Inc()
	p.notifier.AnomalyDetected(rec)
	if critical {
		logger.Warnf("Anomalous %s event %s deducted %.2f trust, score now critical", ev.Type, ev.ID, deduction)
	} else {
		logger.Debugf("Anomalous %s event %s deducted %.2f trust (confidence %.3f)", ev.Type, ev.ID, deduction, confidence)
	}
	return nil
}

// Run pulls payloads from the consumer and fans them out to workers until
// the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	if p.consumer == nil {
		logger.Warnf("Pipeline started without a consumer, intake disabled")
		return
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	p.readLoop(ctx)
	close(p.queue)
	wg.Wait()
}

func (p *Pipeline) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := p.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Intake read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if payload == nil {
			continue
		}

		select {
		case p.queue <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	for payload := range p.queue {
		raw, err := ParseRaw(payload)
		if err != nil {
			metrics.EventsRejected.Inc()
			logger.Warnf("Dropping malformed intake payload: %v", err)
			continue
		}
		if _, err := p.Ingest(ctx, raw); err != nil {
			if errors.Is(err, ErrUnknownEventType) {
				logger.Warnf("Rejected event: %v", err)
				continue
			}
			logger.Errorf("Ingest failed: %v", err)
		}
	}
}
