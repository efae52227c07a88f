package dispatch

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
	log "github.com/sirupsen/logrus"

	"github.com/sitewatch/edgebridge/pipeline"
)

// LogHandler writes events to the structured log. Always registered:
// every site gets at least a visible record of dispatched events.
type LogHandler struct{}

func (LogHandler) Name() string { return "log" }

func (LogHandler) Deliver(_ context.Context, event pipeline.DispatchEvent) error {
	log.WithFields(log.Fields{
		"eventID":   event.ID,
		"origin":    event.Origin,
		"createdAt": event.CreatedAt,
		"data":      event.Data,
	}).Info("dispatch event")
	return nil
}

// MonitorHandler POSTs events to the external monitoring service.
type MonitorHandler struct {
	// Endpoint is the monitor base URL; events go to Endpoint + "/events".
	// Empty makes the handler a no-op (warned once at construction).
	Endpoint string
	// Service identifies this daemon to the monitor.
	Service string
	Client  *http.Client
}

func NewMonitorHandler(endpoint, service string) *MonitorHandler {
	if endpoint == "" {
		log.Warn("no monitor endpoint configured; monitor dispatches will be dropped")
	}
	return &MonitorHandler{
		Endpoint: endpoint,
		Service:  service,
		Client:   http.DefaultClient,
	}
}

func (*MonitorHandler) Name() string { return "monitor" }

func (h *MonitorHandler) Deliver(ctx context.Context, event pipeline.DispatchEvent) error {
	if h.Endpoint == "" {
		return nil
	}

	var body, err = json.Marshal(struct {
		pipeline.DispatchEvent
		Service string `json:"service"`
	}{event, h.Service})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(h.Endpoint, "/")+"/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("monitor answered status %d", resp.StatusCode)
	}
	return nil
}

// sqliteOpenMu serializes Opens of newly-created journal databases.
// go-sqlite3 is fickle about raced opens, returning "database is
// locked" errors unless one sql.Open completes before the next starts.
var sqliteOpenMu sync.Mutex

// JournalHandler appends dispatched events to a local SQLite journal,
// giving operators a durable trail to inspect after the fact.
type JournalHandler struct {
	db *sql.DB
}

func NewJournalHandler(ctx context.Context, path string) (*JournalHandler, error) {
	sqliteOpenMu.Lock()
	var db, err = sql.Open("sqlite3", path)
	if err == nil {
		err = db.PingContext(ctx)
	}
	sqliteOpenMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("opening event journal %s: %w", path, err)
	}

	if _, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dispatch_events (
			id         TEXT NOT NULL,
			origin     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			handlers   TEXT NOT NULL,
			data       TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &JournalHandler{db: db}, nil
}

func (*JournalHandler) Name() string { return "journal" }

func (h *JournalHandler) Deliver(ctx context.Context, event pipeline.DispatchEvent) error {
	var data, err = json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO dispatch_events (id, origin, created_at, handlers, data) VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.Origin,
		event.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		strings.Join(event.Handlers, ","),
		string(data),
	)
	return err
}

func (h *JournalHandler) Close() error { return h.db.Close() }

// Publisher is the transport surface the MQTT handler publishes
// through. *comm.MQTTAdapter satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTHandler publishes events as JSON to a configured topic.
type MQTTHandler struct {
	Topic     string
	Transport Publisher
}

func (*MQTTHandler) Name() string { return "mqtt" }

func (h *MQTTHandler) Deliver(_ context.Context, event pipeline.DispatchEvent) error {
	var body, err = json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return h.Transport.Publish(h.Topic, body)
}
