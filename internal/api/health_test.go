package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seantiz/shipper/internal/backend"
	"github.com/seantiz/shipper/internal/uploader"
)

func getHealth(t *testing.T, url string) (int, healthResponse) {
	t.Helper()
	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthzReady(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, body := getHealth(t, ts.URL)
	if code != http.StatusOK {
		t.Errorf("status code = %d, want 200", code)
	}
	if body.Status != healthOK || body.Journal != healthOK {
		t.Errorf("status/journal = %q/%q, want ok/ok", body.Status, body.Journal)
	}
	if len(body.Backends) != 1 || body.Backends[0].Name != "local" || body.Backends[0].Status != healthOK {
		t.Errorf("backends = %+v, want one open local backend", body.Backends)
	}
}

func TestHealthzDegradedAfterManagersClose(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.registry.Close(ctx); err != nil {
		t.Fatalf("close registry: %v", err)
	}

	code, body := getHealth(t, ts.URL)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", code)
	}
	if body.Status != healthDegraded {
		t.Errorf("status = %q, want %q", body.Status, healthDegraded)
	}
	if body.Journal != healthOK {
		t.Errorf("journal = %q, want ok", body.Journal)
	}
	if len(body.Backends) != 1 || body.Backends[0].Status != healthClosed {
		t.Errorf("backends = %+v, want local closed", body.Backends)
	}
}

func TestHealthzDegradedWhenJournalDown(t *testing.T) {
	env := newUploadServer(t, uploader.Config{}, nil)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	env.store.Close()

	code, body := getHealth(t, ts.URL)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", code)
	}
	if body.Journal != healthDown {
		t.Errorf("journal = %q, want %q", body.Journal, healthDown)
	}
	if len(body.Backends) != 1 || body.Backends[0].Status != healthOK {
		t.Errorf("backends = %+v, want local ok", body.Backends)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Upload IDs must collapse into the route pattern.
	for _, id := range []string{"a", "b"} {
		resp, err := http.Get(ts.URL + "/v1/uploads/" + id)
		if err != nil {
			t.Fatalf("GET upload: %v", err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	for _, want := range []string{
		`shipper_http_requests_total{method="GET",route="/v1/uploads/{id}",status="404"}`,
		"shipper_http_request_duration_seconds",
		"shipper_http_event_streams",
		"shipper_pool_workers",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if strings.Contains(body, `route="/v1/uploads/a"`) {
		t.Error("raw upload path leaked into metric labels")
	}
}

func TestEventStreamsTrackedWithoutLatency(t *testing.T) {
	var gated *gatedBackend
	env := newUploadServer(t, uploader.Config{}, func(b backend.Backend) backend.Backend {
		gated = newGatedBackend(b)
		return gated
	})
	if err := util.WriteFile(env.src, "f.log", []byte("data"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()
	defer gated.release()

	resp := postUpload(t, ts.URL, `{"path":"f.log"}`)
	u := decodeUpload(t, resp)
	resp.Body.Close()
	<-gated.started

	before := testutil.ToFloat64(httpEventStreams)
	stream, err := http.Get(ts.URL + "/v1/uploads/" + u.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(httpEventStreams) != before+1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := testutil.ToFloat64(httpEventStreams); got != before+1 {
		t.Fatalf("event streams = %v, want %v", got, before+1)
	}

	gated.release()
	readEvents(t, stream)

	deadline = time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(httpEventStreams) != before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := testutil.ToFloat64(httpEventStreams); got != before {
		t.Errorf("event streams after close = %v, want %v", got, before)
	}
	if httpRequestDuration.DeleteLabelValues(http.MethodGet, eventsRoute) {
		t.Error("event stream latency was observed")
	}
}
