package forest

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func clusterWithOutlier(n int, rng *rand.Rand) ([][]float64, []float64) {
	data := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		data = append(data, []float64{
			0.5 + 0.02*rng.Float64(),
			0.5 + 0.02*rng.Float64(),
			1, 0,
		})
	}
	outlier := []float64{9.0, -4.0, 0, 1}
	return data, outlier
}

func TestOutlierScoresAboveClusterPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data, outlier := clusterWithOutlier(120, rng)

	f, err := Build(data, 100, 64, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	trainScores := make([]float64, 0, len(data))
	mean := 0.0
	for _, v := range data {
		s := f.Score(v)
		trainScores = append(trainScores, s)
		mean += s
	}
	mean /= float64(len(data))

	s := f.Score(outlier)
	if s <= mean {
		t.Fatalf("expected outlier score above mean inlier score, got %v vs %v", s, mean)
	}
	if th := Threshold(trainScores, 0.1); s < th {
		t.Fatalf("expected outlier score %v at or above decision threshold %v", s, th)
	}
}

func TestFixedSeedProducesIdenticalScores(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data, outlier := clusterWithOutlier(80, rng)

	a, err := Build(data, 50, 32, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	b, err := Build(data, 50, 32, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if a.Score(outlier) != b.Score(outlier) {
		t.Fatalf("same seed produced different scores: %v vs %v", a.Score(outlier), b.Score(outlier))
	}
	for _, v := range data[:10] {
		if a.Score(v) != b.Score(v) {
			t.Fatalf("same seed produced different inlier scores")
		}
	}
}

func TestSerializationRoundTripPreservesScores(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	data, outlier := clusterWithOutlier(60, rng)

	f, err := Build(data, 40, 32, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var restored Forest
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got, want := restored.Score(outlier), f.Score(outlier); got != want {
		t.Fatalf("restored forest scores differ: %v vs %v", got, want)
	}
}

func TestThresholdTracksContamination(t *testing.T) {
	scores := make([]float64, 100)
	for i := range scores {
		scores[i] = float64(i) / 100
	}

	th := Threshold(scores, 0.1)
	above := 0
	for _, s := range scores {
		if s > th {
			above++
		}
	}
	if above < 5 || above > 15 {
		t.Fatalf("expected roughly 10%% of scores above threshold, got %d of 100 (threshold %v)", above, th)
	}
}

func TestBuildRejectsEmptyCorpus(t *testing.T) {
	if _, err := Build(nil, 10, 8, rand.New(rand.NewSource(1))); err == nil {
		t.Fatalf("expected error for empty training data")
	}
}
