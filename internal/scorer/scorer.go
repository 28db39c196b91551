package scorer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zerotrust/internal/feature"
	"zerotrust/internal/forest"
	"zerotrust/internal/logger"
	"zerotrust/internal/metrics"
	"zerotrust/internal/store"
	"zerotrust/pkg/models"
)

var (
	// ErrInsufficientData means the corpus is below the configured minimum.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrNotTrained means no model version is available for scoring.
	ErrNotTrained = errors.New("model not trained")
	// ErrSchemaMismatch means a persisted model was built against a
	// different feature schema and must not be used.
	ErrSchemaMismatch = errors.New("model schema mismatch")
)

// State is the scorer lifecycle state.
type State int

const (
	Untrained State = iota
	Trained
	Retraining
)

func (s State) String() string {
	switch s {
	case Trained:
		return "trained"
	case Retraining:
		return "retraining"
	default:
		return "untrained"
	}
}

// Config controls ensemble construction.
type Config struct {
	Trees         int
	Subsample     int
	Contamination float64
	MinCorpusSize int
	Seed          int64
	ArtifactPath  string
}

// snapshot is one immutable trained model version. Scoring reads whichever
// snapshot is installed; rebuilds install a new one atomically.
type snapshot struct {
	forest        *forest.Forest
	threshold     float64
	contamination float64
	version       int
}

// Scorer trains and applies the isolation ensemble.
type Scorer struct {
	cfg Config

	mu    sync.RWMutex
	model *snapshot
	state State

	// rebuildMu serializes Train calls so a retrain never runs
	// concurrently with itself.
	rebuildMu sync.Mutex
}

// New creates an untrained scorer.
func New(cfg Config) *Scorer {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.Subsample <= 0 {
		cfg.Subsample = 256
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		cfg.Contamination = 0.1
	}
	if cfg.MinCorpusSize <= 0 {
		cfg.MinCorpusSize = 30
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &Scorer{cfg: cfg}
}

// State returns the current lifecycle state.
func (s *Scorer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Trained reports whether a model version is available for scoring.
func (s *Scorer) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

// Version returns the installed model version, 0 when untrained.
func (s *Scorer) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return 0
	}
	return s.model.version
}

// Train rebuilds the ensemble from the full corpus. Examples labeled
// anomalous are excluded; unknown labels are presumed normal. The rebuilt
// model is swapped in atomically, so concurrent Predict calls only ever
// observe a complete version.
func (s *Scorer) Train(examples []store.CorpusExample) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	vectors := make([][]float64, 0, len(examples))
	for _, ex := range examples {
		if ex.Label == models.LabelAnomalous {
			continue
		}
		if len(ex.Vector) != feature.Dim {
			return fmt.Errorf("%w: corpus example for event %s has %d features, want %d",
				ErrSchemaMismatch, ex.EventID, len(ex.Vector), feature.Dim)
		}
		vectors = append(vectors, ex.Vector)
	}

	if len(vectors) < s.cfg.MinCorpusSize {
		return fmt.Errorf("%w: have %d usable examples, need %d",
			ErrInsufficientData, len(vectors), s.cfg.MinCorpusSize)
	}

	s.mu.Lock()
	if s.model != nil {
		s.state = Retraining
	}
	prevVersion := 0
	if s.model != nil {
		prevVersion = s.model.version
	}
	s.mu.Unlock()

	start := time.Now()
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	f, err := forest.Build(vectors, s.cfg.Trees, s.cfg.Subsample, rng)
	if err != nil {
		s.mu.Lock()
		if s.model != nil {
			s.state = Trained
		}
		s.mu.Unlock()
		return fmt.Errorf("build ensemble: %w", err)
	}

	trainScores := make([]float64, len(vectors))
	for i, v := range vectors {
		trainScores[i] = f.Score(v)
	}
	threshold := forest.Threshold(trainScores, s.cfg.Contamination)

	next := &snapshot{
		forest:        f,
		threshold:     threshold,
		contamination: s.cfg.Contamination,
		version:       prevVersion + 1,
	}

	s.mu.Lock()
	s.model = next
	s.state = Trained
	s.mu.Unlock()

	metrics.ModelRetrains.Inc()
	logger.Infof("Anomaly model v%d trained: examples=%d trees=%d threshold=%.4f took=%s",
		next.version, len(vectors), s.cfg.Trees, threshold, time.Since(start))

	if s.cfg.ArtifactPath != "" {
		if err := s.save(next); err != nil {
			logger.Errorf("Failed to persist model artifact: %v", err)
		}
	}
	return nil
}

// Predict scores a vector against the current model version. The confidence
// is the normalized isolation score in [0,1].
func (s *Scorer) Predict(vec []float64) (bool, float64, error) {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()

	if model == nil {
		return false, 0, ErrNotTrained
	}
	if len(vec) != feature.Dim {
		return false, 0, fmt.Errorf("%w: vector has %d features, want %d", ErrSchemaMismatch, len(vec), feature.Dim)
	}

	start := time.Now()
	score := model.forest.Score(vec)
	metrics.PredictionDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)

	return score >= model.threshold, score, nil
}

// Invalidate discards the current model, returning the scorer to Untrained.
func (s *Scorer) Invalidate() {
	s.mu.Lock()
	s.model = nil
	s.state = Untrained
	s.mu.Unlock()

	if s.cfg.ArtifactPath != "" {
		if err := os.Remove(s.cfg.ArtifactPath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to remove model artifact: %v", err)
		}
	}
}

// artifact is the persisted model format: the opaque ensemble plus the
// feature schema version and the contamination it was calibrated with.
type artifact struct {
	SchemaVersion int            `json:"schema_version"`
	Contamination float64        `json:"contamination"`
	Threshold     float64        `json:"threshold"`
	Version       int            `json:"version"`
	Forest        *forest.Forest `json:"forest"`
}

func (s *Scorer) save(model *snapshot) error {
	dir := filepath.Dir(s.cfg.ArtifactPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create artifact directory: %w", err)
		}
	}

	raw, err := json.Marshal(artifact{
		SchemaVersion: feature.SchemaVersion,
		Contamination: model.contamination,
		Threshold:     model.threshold,
		Version:       model.version,
		Forest:        model.forest,
	})
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(s.cfg.ArtifactPath, raw, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Load restores a persisted model. A schema version mismatch fails closed:
// the scorer stays Untrained rather than scoring with misaligned vectors.
func (s *Scorer) Load() error {
	if s.cfg.ArtifactPath == "" {
		return ErrNotTrained
	}
	raw, err := os.ReadFile(s.cfg.ArtifactPath)
	if os.IsNotExist(err) {
		return ErrNotTrained
	}
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}

	var art artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	if art.SchemaVersion != feature.SchemaVersion {
		return fmt.Errorf("%w: artifact schema v%d, extractor schema v%d",
			ErrSchemaMismatch, art.SchemaVersion, feature.SchemaVersion)
	}
	if art.Forest == nil || len(art.Forest.Trees) == 0 {
		return fmt.Errorf("artifact has no ensemble")
	}

	s.mu.Lock()
	s.model = &snapshot{
		forest:        art.Forest,
		threshold:     art.Threshold,
		contamination: art.Contamination,
		version:       art.Version,
	}
	s.state = Trained
	s.mu.Unlock()

	logger.Infof("Anomaly model v%d loaded from %s", art.Version, s.cfg.ArtifactPath)
	return nil
}
