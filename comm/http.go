package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// stopGrace bounds in-flight request handling during Stop.
const stopGrace = 5 * time.Second

// HTTPAdapter ingests edge events via `POST /edge/events` on its own
// listener, and publishes phase documents to a configured endpoint.
type HTTPAdapter struct {
	cfg    Config
	client *http.Client
	clock  func() time.Time

	mu       sync.Mutex
	started  bool
	server   *http.Server
	listener net.Listener
}

func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	return &HTTPAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		clock:  time.Now,
	}
}

func (a *HTTPAdapter) StartEventIngestion(sink EventSink) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return ErrAlreadyStarted
	}

	var addr = fmt.Sprintf("%s:%d", a.cfg.HTTP.Host, a.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding ingestion listener %s: %w", addr, err)
	}
	if a.cfg.HTTP.MaxConns > 0 {
		listener = netutil.LimitListener(listener, a.cfg.HTTP.MaxConns)
	}

	var mux = http.NewServeMux()
	mux.HandleFunc("/edge/events", func(w http.ResponseWriter, r *http.Request) {
		a.serveEvent(w, r, sink)
	})

	a.server = &http.Server{Handler: mux}
	a.listener = listener
	a.started = true

	go func(server *http.Server, listener net.Listener) {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Error("edge event listener failed")
		}
	}(a.server, listener)

	log.WithField("addr", listener.Addr().String()).Info("started HTTP edge event ingestion")
	return nil
}

// Addr is the bound listener address, for tests and startup logging.
func (a *HTTPAdapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *HTTPAdapter) serveEvent(w http.ResponseWriter, r *http.Request, sink EventSink) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var doc eventDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		decodeErrors.WithLabelValues("http").Inc()
		log.WithFields(log.Fields{
			"err":    err,
			"client": r.RemoteAddr,
		}).Warn("dropping malformed edge event body")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var reply = struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason,omitempty"`
	}{}

	if err := doc.validate(); err != nil {
		decodeErrors.WithLabelValues("http").Inc()
		log.WithFields(log.Fields{
			"err":    err,
			"client": r.RemoteAddr,
		}).Warn("dropping invalid edge event")
		reply.Reason = err.Error()
	} else if !a.deliver(sink, doc) {
		// Rejections (typically age) still answer 200 so that edge
		// boxes don't retry events which can never be admitted.
		reply.Reason = "event rejected"
	} else {
		reply.OK = true
		eventsIngested.WithLabelValues("http").Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

// deliver invokes the sink, containing a panicking callback so that a
// bad event can't take down the transport.
func (a *HTTPAdapter) deliver(sink EventSink, doc eventDoc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"cameraID": doc.CameraID,
				"panic":    r,
			}).Error("edge event sink panicked")
			ok = false
		}
	}()
	return sink(doc.event(a.clock()))
}

func (a *HTTPAdapter) PublishPhase(phase string, timestamp float64) bool {
	if a.cfg.HTTP.PublishEndpoint == "" {
		log.WithField("phase", phase).Warn("no phase publish endpoint configured; dropping phase publish")
		phasePublishes.WithLabelValues("http", "dropped").Inc()
		return false
	}

	var body, err = json.Marshal(phaseDoc{
		Phase:     phase,
		Timestamp: timestamp,
		Service:   a.cfg.ServiceName,
	})
	if err != nil {
		phasePublishes.WithLabelValues("http", "error").Inc()
		return false
	}

	resp, err := a.client.Post(a.cfg.HTTP.PublishEndpoint+"/phase", "application/json", bytes.NewReader(body))
	if err != nil {
		log.WithFields(log.Fields{"err": err, "phase": phase}).Warn("phase publish failed")
		phasePublishes.WithLabelValues("http", "error").Inc()
		return false
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"phase":  phase,
		}).Warn("phase publish rejected")
		phasePublishes.WithLabelValues("http", "rejected").Inc()
		return false
	}
	phasePublishes.WithLabelValues("http", "ok").Inc()
	return true
}

func (a *HTTPAdapter) Stop() error {
	a.mu.Lock()
	var server, listener = a.server, a.listener
	a.server, a.listener = nil, nil
	a.mu.Unlock()

	if server == nil {
		if listener != nil {
			return listener.Close()
		}
		return nil
	}

	var ctx, cancel = context.WithTimeout(context.Background(), stopGrace)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		// Grace expired. Force-close remaining connections.
		return server.Close()
	}
	return nil
}
