package feature

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"zerotrust/pkg/models"
)

// SchemaVersion identifies the feature vector layout. A persisted model built
// against a different version must not be used for scoring.
const SchemaVersion = 1

// Dim is the fixed output dimensionality.
const Dim = 20

const (
	shortWindow = 60 * time.Second
	longWindow  = 300 * time.Second
)

// Extractor derives fixed-length numeric vectors from events. Extraction is
// deterministic given the event stream: the only mutable state is a rolling
// per-type timestamp window used for the frequency features, pruned on event
// timestamps rather than wall clock so replays produce identical vectors.
type Extractor struct {
	mu      sync.Mutex
	windows map[models.EventType][]time.Time
}

// NewExtractor creates an extractor with empty frequency windows.
func NewExtractor() *Extractor {
	return &Extractor{windows: make(map[models.EventType][]time.Time)}
}

// Extract converts an event into its feature vector.
func (x *Extractor) Extract(ev *models.Event) []float64 {
	vec := make([]float64, 0, Dim)

	// Cyclical time-of-day and day-of-week encoding.
	ts := ev.Timestamp.UTC()
	daySeconds := float64(ts.Hour()*3600 + ts.Minute()*60 + ts.Second())
	dayAngle := 2 * math.Pi * daySeconds / 86400
	weekAngle := 2 * math.Pi * float64(ts.Weekday()) / 7
	vec = append(vec, math.Sin(dayAngle), math.Cos(dayAngle))
	vec = append(vec, math.Sin(weekAngle), math.Cos(weekAngle))

	// One-hot event type.
	for _, t := range models.EventTypes {
		if ev.Type == t {
			vec = append(vec, 1)
		} else {
			vec = append(vec, 0)
		}
	}

	// Bounded-domain hashes of identifying strings.
	vec = append(vec, hashString(ev.Attr("process_name")))
	vec = append(vec, hashString(ev.Attr("destination")))
	vec = append(vec, hashString(ev.Attr("user_id")))

	// Short-window frequency of this event type.
	short, long := x.observe(ev.Type, ts)
	vec = append(vec, float64(short), float64(long))

	// Outcome encodings.
	if ev.AttrBool("auth_success") {
		vec = append(vec, 1)
	} else {
		vec = append(vec, 0)
	}
	vec = append(vec, ev.AttrFloat("file_change_severity"))
	vec = append(vec, networkDirection(ev.Attr("network_direction")))

	return vec
}

// Reset clears the rolling frequency windows.
func (x *Extractor) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.windows = make(map[models.EventType][]time.Time)
}

// observe records the event in the rolling window for its type and returns
// how many events of that type fall within the short and long windows,
// the current event included.
func (x *Extractor) observe(t models.EventType, ts time.Time) (int, int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	window := append(x.windows[t], ts)
	longCutoff := ts.Add(-longWindow)
	idx := 0
	for idx < len(window) && window[idx].Before(longCutoff) {
		idx++
	}
	window = window[idx:]
	x.windows[t] = window

	shortCutoff := ts.Add(-shortWindow)
	short := 0
	for _, seen := range window {
		if !seen.Before(shortCutoff) {
			short++
		}
	}
	return short, len(window)
}

// hashString maps an identifying string into [0,1). Empty strings map to 0 so
// absent attributes stay distinguishable from hashed values.
func hashString(s string) float64 {
	if s == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32()) / float64(1<<32)
}

func networkDirection(dir string) float64 {
	switch dir {
	case "inbound":
		return 1
	case "outbound":
		return 2
	default:
		return 0
	}
}
