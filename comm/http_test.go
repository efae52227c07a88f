package comm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitewatch/edgebridge/store"
)

func startTestAdapter(t *testing.T, sink EventSink) *HTTPAdapter {
	var cfg Config
	cfg.ServiceName = "edgebridge-test"
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0

	var a = NewHTTPAdapter(cfg)
	require.NoError(t, a.StartEventIngestion(sink))
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func postEvent(t *testing.T, addr, body string) (int, map[string]any) {
	var resp, err = http.Post("http://"+addr+"/edge/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHTTPIngestAcceptAndReject(t *testing.T) {
	var got []store.EdgeEvent
	var admit = true
	var a = startTestAdapter(t, func(event store.EdgeEvent) bool {
		got = append(got, event)
		return admit
	})

	var now = float64(time.Now().Unix())
	var status, reply = postEvent(t, a.Addr(),
		fmt.Sprintf(`{"camera_id": "cam01", "timestamp": %f, "detections": [{"class": "person", "confidence": 0.9}]}`, now))

	require.Equal(t, 200, status)
	require.Equal(t, true, reply["ok"])
	require.Len(t, got, 1)
	require.Equal(t, "cam01", got[0].CameraID)
	require.Equal(t, "person", got[0].Detections[0].Class)
	require.False(t, got[0].ReceivedAt.IsZero())

	// A sink rejection (e.g. too-old event) still answers 200 so the
	// edge box doesn't retry, but with ok: false.
	admit = false
	status, reply = postEvent(t, a.Addr(), fmt.Sprintf(`{"camera_id": "cam01", "timestamp": %f}`, now))
	require.Equal(t, 200, status)
	require.Equal(t, false, reply["ok"])
	require.Equal(t, "event rejected", reply["reason"])
}

func TestHTTPIngestMalformedBody(t *testing.T) {
	var calls int
	var a = startTestAdapter(t, func(store.EdgeEvent) bool { calls++; return true })

	var status, _ = postEvent(t, a.Addr(), `{"camera_id": [,`)
	require.Equal(t, 400, status)
	require.Zero(t, calls)
}

func TestHTTPIngestMissingFields(t *testing.T) {
	var calls int
	var a = startTestAdapter(t, func(store.EdgeEvent) bool { calls++; return true })

	var status, reply = postEvent(t, a.Addr(), `{"timestamp": 100}`)
	require.Equal(t, 200, status)
	require.Equal(t, false, reply["ok"])
	require.Equal(t, "camera_id is required", reply["reason"])
	require.Zero(t, calls)
}

func TestHTTPIngestSinkPanicIsContained(t *testing.T) {
	var a = startTestAdapter(t, func(store.EdgeEvent) bool { panic("sink boom") })

	var status, reply = postEvent(t, a.Addr(), `{"camera_id": "cam01", "timestamp": 100}`)
	require.Equal(t, 200, status)
	require.Equal(t, false, reply["ok"])
}

func TestHTTPStartTwiceFails(t *testing.T) {
	var a = startTestAdapter(t, func(store.EdgeEvent) bool { return true })
	require.ErrorIs(t, a.StartEventIngestion(func(store.EdgeEvent) bool { return true }), ErrAlreadyStarted)
}

func TestHTTPStopIsIdempotent(t *testing.T) {
	var cfg Config
	cfg.HTTP.Host = "127.0.0.1"
	var a = NewHTTPAdapter(cfg)
	require.NoError(t, a.StartEventIngestion(func(store.EdgeEvent) bool { return true }))

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())
	// Stop on a never-started adapter is also fine.
	require.NoError(t, NewHTTPAdapter(cfg).Stop())
}

func TestHTTPPhasePublish(t *testing.T) {
	var received []phaseDoc
	var status = 200
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/phase", r.URL.Path)
		var doc phaseDoc
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		received = append(received, doc)
		w.WriteHeader(status)
	}))
	defer server.Close()

	var cfg Config
	cfg.ServiceName = "edgebridge-test"
	cfg.HTTP.PublishEndpoint = server.URL
	var a = NewHTTPAdapter(cfg)

	require.True(t, a.PublishPhase("working", 1234.5))
	require.Equal(t, []phaseDoc{{Phase: "working", Timestamp: 1234.5, Service: "edgebridge-test"}}, received)

	// Re-publishing the same phase is idempotent for observers: the
	// document is identical.
	require.True(t, a.PublishPhase("working", 1234.5))
	require.Equal(t, received[0], received[1])

	status = 503
	require.False(t, a.PublishPhase("working", 1236.0))
}

func TestHTTPPhasePublishWithoutEndpoint(t *testing.T) {
	var a = NewHTTPAdapter(Config{})
	require.False(t, a.PublishPhase("working", 1234.5))
}
