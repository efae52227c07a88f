// Package store implements the in-memory edge event store: the latest
// accepted inference event of every camera, plus liveness bookkeeping
// used for stale-site detection.
package store

import (
	"math"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// NoEventAge is returned by LastEventAge when no event was ever accepted.
// It compares greater than any real staleness threshold.
const NoEventAge = time.Duration(math.MaxInt64)

// Detection is one detected object within an edge event payload.
type Detection struct {
	Class      string     `json:"class"`
	Box        [4]float64 `json:"box"`
	Confidence float64    `json:"confidence"`
	LocalID    string     `json:"local_id,omitempty"`
}

// EdgeEvent is a normalized per-camera inference record.
type EdgeEvent struct {
	CameraID   string      `json:"camera_id"`
	Timestamp  float64     `json:"timestamp"` // Epoch seconds, UTC.
	ReceivedAt time.Time   `json:"-"`
	Detections []Detection `json:"detections"`
}

// Time converts the event's epoch-seconds timestamp to a time.Time.
func (e EdgeEvent) Time() time.Time {
	var sec, frac = math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// Age is the event's age relative to |now|.
func (e EdgeEvent) Age(now time.Time) time.Duration {
	return now.Sub(e.Time())
}

// Store retains at most one event per camera: the one with the greatest
// accepted timestamp. Add may be called from transport goroutines while
// Snapshot is called from the workflow loop; a single mutex guards both.
type Store struct {
	maxAge     time.Duration
	futureSkew time.Duration
	clock      func() time.Time

	mu          sync.Mutex
	byCamera    map[string]EdgeEvent
	lastEventAt time.Time
}

// NewStore builds a Store which rejects events older than |maxAge| at
// ingest time. Events time-stamped up to |futureSkew| ahead of the local
// clock are clamped to their arrival time; beyond that they're rejected.
func NewStore(maxAge, futureSkew time.Duration) *Store {
	return &Store{
		maxAge:     maxAge,
		futureSkew: futureSkew,
		clock:      time.Now,
		byCamera:   make(map[string]EdgeEvent),
	}
}

// Add ingests one event. It returns false if the event was rejected
// (too old, negative or too-far-future timestamp), and true otherwise.
// An accepted event supersedes the camera's prior entry only if its
// timestamp is not older; either way it refreshes the store's liveness.
func (s *Store) Add(event EdgeEvent) bool {
	var now = s.clock()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}

	if event.Timestamp <= 0 {
		log.WithFields(log.Fields{
			"cameraID":  event.CameraID,
			"timestamp": event.Timestamp,
		}).Warn("rejecting edge event with non-positive timestamp")
		eventsRejected.WithLabelValues("timestamp").Inc()
		return false
	}

	if age := event.Age(now); age < 0 {
		if -age > s.futureSkew {
			log.WithFields(log.Fields{
				"cameraID":  event.CameraID,
				"timestamp": event.Timestamp,
				"skew":      -age,
			}).Warn("rejecting edge event from the future")
			eventsRejected.WithLabelValues("future").Inc()
			return false
		}
		// Small clock skew between the edge box and this host. Clamp.
		event.Timestamp = float64(event.ReceivedAt.UnixNano()) / float64(time.Second)
	} else if s.maxAge > 0 && age > s.maxAge {
		log.WithFields(log.Fields{
			"cameraID": event.CameraID,
			"age":      age,
			"maxAge":   s.maxAge,
		}).Warn("rejecting edge event older than max age")
		eventsRejected.WithLabelValues("age").Inc()
		return false
	}

	s.mu.Lock()
	var retained = false
	if prior, ok := s.byCamera[event.CameraID]; !ok || event.Timestamp >= prior.Timestamp {
		s.byCamera[event.CameraID] = event
		retained = true
	}
	s.lastEventAt = now
	s.mu.Unlock()

	// An event counts once: retained events are accepted, out-of-order
	// arrivals which lost to the retained event are superseded.
	if retained {
		eventsAccepted.Inc()
	} else {
		eventsSuperseded.Inc()
	}
	return true
}

// Snapshot returns a camera-ordered copy of the current per-camera events.
// It's the atomic observation point for pipeline tasks: events accepted
// after the snapshot are observed on the next tick.
func (s *Store) Snapshot() []EdgeEvent {
	s.mu.Lock()
	var out = make([]EdgeEvent, 0, len(s.byCamera))
	for _, event := range s.byCamera {
		out = append(out, event)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// LastEventAge is the time since the most recent successful ingest across
// all cameras, or NoEventAge if none was ever accepted.
func (s *Store) LastEventAge(now time.Time) time.Duration {
	s.mu.Lock()
	var at = s.lastEventAt
	s.mu.Unlock()

	if at.IsZero() {
		return NoEventAge
	}
	return now.Sub(at)
}

// Get returns the retained event of one camera, if any.
func (s *Store) Get(cameraID string) (EdgeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var event, ok = s.byCamera[cameraID]
	return event, ok
}

// Len is the number of cameras with a retained event.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCamera)
}

// Clear drops the retained event of one camera.
func (s *Store) Clear(cameraID string) {
	s.mu.Lock()
	delete(s.byCamera, cameraID)
	s.mu.Unlock()
}

// ClearAll drops every retained event. Liveness bookkeeping is kept:
// staleness reflects ingest activity, not store contents.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.byCamera = make(map[string]EdgeEvent)
	s.mu.Unlock()
}
