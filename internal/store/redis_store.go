package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"zerotrust/pkg/models"
)

// RedisConfig configures Redis access for persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore persists engine rows in Redis: JSON blobs per row plus sorted-set
// indexes for time-ordered listings. Row writes are single commands, which
// gives the per-row atomicity the ingestion path relies on.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "zerotrust"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

func (s *RedisStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.eventKey(ev.ID), raw, 0)
	pipe.ZAdd(ctx, s.key("events:index"), redis.Z{Score: float64(ev.Timestamp.UnixNano()), Member: ev.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write event row: %w", err)
	}
	return nil
}

func (s *RedisStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	raw, err := s.client.Get(ctx, s.eventKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read event row: %w", err)
	}
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event row: %w", err)
	}
	return &ev, nil
}

func (s *RedisStore) CorrectEvent(ctx context.Context, id string, anomalyFlag bool, trustDelta float64) error {
	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	ev.AnomalyFlag = anomalyFlag
	ev.TrustDelta = trustDelta
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.client.Set(ctx, s.eventKey(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("rewrite event row: %w", err)
	}
	return nil
}

func (s *RedisStore) CountEvents(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.key("events:index")).Result()
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) CreateSession(ctx context.Context, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("write session row: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session row: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session row: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) CloseSession(ctx context.Context, id string, endedAt time.Time, modelVersion int) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.EndedAt = endedAt
	if modelVersion > 0 {
		sess.ModelVersion = modelVersion
	}
	return s.CreateSession(ctx, sess)
}

func (s *RedisStore) AcquireActive(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key("sessions:active"), sessionID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("acquire active pointer: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) ActiveSession(ctx context.Context) (*models.Session, error) {
	id, err := s.client.Get(ctx, s.key("sessions:active")).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active pointer: %w", err)
	}
	sess, err := s.GetSession(ctx, id)
	if err == ErrNotFound {
		return nil, nil
	}
	return sess, err
}

func (s *RedisStore) ReleaseActive(ctx context.Context, sessionID string) error {
	// Release only when the pointer still names this session.
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	if err := s.client.Eval(ctx, script, []string{s.key("sessions:active")}, sessionID).Err(); err != nil {
		return fmt.Errorf("release active pointer: %w", err)
	}
	return nil
}

func (s *RedisStore) CreateAnomaly(ctx context.Context, rec *models.AnomalyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode anomaly: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.anomalyKey(rec.ID), raw, 0)
	pipe.ZAdd(ctx, s.key("anomalies:index"), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write anomaly row: %w", err)
	}
	return nil
}

func (s *RedisStore) GetAnomaly(ctx context.Context, id string) (*models.AnomalyRecord, error) {
	raw, err := s.client.Get(ctx, s.anomalyKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read anomaly row: %w", err)
	}
	var rec models.AnomalyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode anomaly row: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) ResolveAnomaly(ctx context.Context, id, actor string, at time.Time) (bool, error) {
	rec, err := s.GetAnomaly(ctx, id)
	if err != nil {
		return false, err
	}
	// The marker write is the compare-and-set; only its winner rewrites
	// the row, so concurrent resolvers see exactly one transition.
	won, err := s.client.SetNX(ctx, s.anomalyKey(id)+":resolved", actor, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim anomaly resolution: %w", err)
	}
	if !won {
		return false, nil
	}
	rec.Resolved = true
	rec.ResolvedBy = actor
	rec.ResolvedAt = at
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode anomaly: %w", err)
	}
	if err := s.client.Set(ctx, s.anomalyKey(id), raw, 0).Err(); err != nil {
		return false, fmt.Errorf("rewrite anomaly row: %w", err)
	}
	return true, nil
}

func (s *RedisStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]*models.AnomalyRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.key("anomalies:index"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read anomaly index: %w", err)
	}

	out := make([]*models.AnomalyRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetAnomaly(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		if filter.Resolved != nil && rec.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) AppendCorpus(ctx context.Context, ex CorpusExample) error {
	raw, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("encode corpus example: %w", err)
	}
	if err := s.client.RPush(ctx, s.key("corpus"), raw).Err(); err != nil {
		return fmt.Errorf("append corpus example: %w", err)
	}
	return nil
}

func (s *RedisStore) ListCorpus(ctx context.Context) ([]CorpusExample, error) {
	rows, err := s.client.LRange(ctx, s.key("corpus"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	out := make([]CorpusExample, 0, len(rows))
	for _, row := range rows {
		var ex CorpusExample
		if err := json.Unmarshal([]byte(row), &ex); err != nil {
			return nil, fmt.Errorf("decode corpus example: %w", err)
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *RedisStore) RelabelCorpus(ctx context.Context, eventID string, label models.Label) (bool, error) {
	rows, err := s.client.LRange(ctx, s.key("corpus"), 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("read corpus: %w", err)
	}
	found := false
	for i, row := range rows {
		var ex CorpusExample
		if err := json.Unmarshal([]byte(row), &ex); err != nil {
			continue
		}
		if ex.EventID != eventID {
			continue
		}
		ex.Label = label
		raw, err := json.Marshal(ex)
		if err != nil {
			return found, fmt.Errorf("encode corpus example: %w", err)
		}
		if err := s.client.LSet(ctx, s.key("corpus"), int64(i), raw).Err(); err != nil {
			return found, fmt.Errorf("relabel corpus example: %w", err)
		}
		found = true
	}
	return found, nil
}

func (s *RedisStore) CountCorpus(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key("corpus")).Result()
	if err != nil {
		return 0, fmt.Errorf("count corpus: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) SaveTrustState(ctx context.Context, st *models.TrustState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode trust state: %w", err)
	}
	if err := s.client.Set(ctx, s.trustKey(st.SessionID), raw, 0).Err(); err != nil {
		return fmt.Errorf("write trust state: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTrustState(ctx context.Context, sessionID string) (*models.TrustState, error) {
	raw, err := s.client.Get(ctx, s.trustKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read trust state: %w", err)
	}
	var st models.TrustState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode trust state: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) ArchiveTrustState(ctx context.Context, sessionID string) error {
	st, err := s.GetTrustState(ctx, sessionID)
	if err != nil {
		return err
	}
	st.Archived = true
	return s.SaveTrustState(ctx, st)
}

func (s *RedisStore) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", 512).Result()
		if err != nil {
			return fmt.Errorf("scan store keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete store keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(suffix string) string {
	return s.prefix + ":" + suffix
}

func (s *RedisStore) eventKey(id string) string {
	return s.prefix + ":events:" + id
}

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + ":sessions:" + id
}

func (s *RedisStore) anomalyKey(id string) string {
	return s.prefix + ":anomalies:" + id
}

func (s *RedisStore) trustKey(sessionID string) string {
	return s.prefix + ":trust:" + sessionID
}
