// Package comm implements the edge communication adapters: the
// transport-agnostic surface through which edge events arrive and the
// committed phase is published back out. Two transports are provided,
// HTTP and MQTT; either may own ingestion, phase publish, or both.
package comm

import (
	"errors"
	"fmt"
	"time"

	"github.com/sitewatch/edgebridge/store"
)

// ErrAlreadyStarted is returned by a second StartEventIngestion call on
// the same adapter. Ingestion has exactly one lifecycle owner.
var ErrAlreadyStarted = errors.New("event ingestion already started")

// EventSink receives one decoded edge event per accepted transport
// message. It reports whether the event was admitted, which transports
// reflect back to the edge producer where they can.
type EventSink func(store.EdgeEvent) bool

// Adapter is the transport-agnostic edge communication surface.
type Adapter interface {
	// StartEventIngestion starts the transport and routes each decoded
	// inbound event to |sink|. It may be called at most once.
	StartEventIngestion(sink EventSink) error
	// PublishPhase publishes the site's current phase. It never panics:
	// the outcome is the returned bool, true only on an accepted send.
	PublishPhase(phase string, timestamp float64) bool
	// Stop releases transport resources. It's idempotent, and safe to
	// call after a failed start.
	Stop() error
}

// Backend names a transport implementation.
type Backend string

const (
	BackendHTTP Backend = "http"
	BackendMQTT Backend = "mqtt"
)

// Config parameterizes adapter construction for both transports.
type Config struct {
	// ServiceName is attached to published phase documents.
	ServiceName string

	HTTP struct {
		// Host and Port bind the ingestion listener.
		Host string
		Port int
		// MaxConns caps concurrent ingestion connections.
		MaxConns int
		// PublishEndpoint is the base URL phase documents are POSTed
		// to. Empty disables HTTP phase publish (PublishPhase returns
		// false with a warning).
		PublishEndpoint string
	}

	MQTT struct {
		Host     string
		Port     int
		ClientID string
		QoS      byte
		Retain   bool
		// EventsTopic is subscribed for inbound edge events.
		EventsTopic string
		// PhaseTopic receives published phase documents.
		PhaseTopic string
		// RetryBackoff paces reconnection attempts.
		RetryBackoff time.Duration
	}
}

// New builds the adapter for |backend|.
func New(backend Backend, cfg Config) (Adapter, error) {
	switch backend {
	case BackendHTTP:
		return NewHTTPAdapter(cfg), nil
	case BackendMQTT:
		return NewMQTTAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown edge event backend %q (expected http or mqtt)", backend)
	}
}

// phaseDoc is the published phase document shape, shared by transports.
type phaseDoc struct {
	Phase     string  `json:"phase"`
	Timestamp float64 `json:"timestamp"`
	Service   string  `json:"service"`
}

// eventDoc is the inbound edge event wire shape, shared by transports.
type eventDoc struct {
	CameraID   string            `json:"camera_id"`
	Timestamp  float64           `json:"timestamp"`
	Detections []store.Detection `json:"detections"`
}

func (d eventDoc) validate() error {
	if d.CameraID == "" {
		return errors.New("camera_id is required")
	}
	if d.Timestamp == 0 {
		return errors.New("timestamp is required")
	}
	return nil
}

func (d eventDoc) event(receivedAt time.Time) store.EdgeEvent {
	return store.EdgeEvent{
		CameraID:   d.CameraID,
		Timestamp:  d.Timestamp,
		ReceivedAt: receivedAt,
		Detections: d.Detections,
	}
}
