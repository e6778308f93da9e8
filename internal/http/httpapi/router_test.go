package httpapi

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/http/handlers"
	"pinstrategy/internal/metrics"
	"pinstrategy/internal/runs"
)

type gatedClient struct {
	gate chan struct{}
}

func (c *gatedClient) LockIdentity(ctx context.Context, _ []domain.Image, _ string) (string, error) {
	select {
	case <-c.gate:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "walnut board", nil
}

func (c *gatedClient) DraftPrompts(context.Context, []domain.Image, string, domain.Settings, domain.ProductLock) (string, error) {
	return `[{"prompt":"board on counter","aspectRatio":"1:1"}]`, nil
}

func (c *gatedClient) SynthesizeImage(context.Context, string, domain.AspectRatio) (domain.Image, error) {
	return domain.Image{MIME: "image/png", Data: []byte("png")}, nil
}

func (c *gatedClient) VerifyFidelity(context.Context, []domain.Image, domain.Image, domain.ProductLock) (bool, error) {
	return true, nil
}

func (c *gatedClient) GenerateMetadata(context.Context, string, string, domain.Settings) (string, error) {
	return `{"title":"Board"}`, nil
}

type testEnv struct {
	handler http.Handler
	client  *gatedClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := &gatedClient{gate: make(chan struct{})}
	svc, err := runs.NewService(runs.Options{Client: client})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()
	t.Cleanup(func() {
		select {
		case <-client.gate:
		default:
			close(client.gate)
		}
		cancel()
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	app := &handlers.App{
		Runs:            svc,
		Logger:          zerolog.Nop(),
		Generator:       "synthetic",
		MaxUploadImages: 2,
		MaxUploadBytes:  1 << 20,
	}
	return &testEnv{
		handler: NewRouter(app, Options{
			CORSAllowedOrigins: []string{"*"},
			RateLimitPerMin:    100,
			StaticDir:          t.TempDir(),
			Gatherer:           reg,
			Observer:           m,
		}),
		client: client,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var view runs.SessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if view.State.Stage != domain.StageIdle {
		t.Fatalf("new session not idle: %+v", view.State)
	}
	return view.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"generator":"synthetic"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestSessionNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sessions/nope"},
		{http.MethodPost, "/v1/sessions/nope/reset"},
		{http.MethodGet, "/v1/sessions/nope/events"},
	} {
		rec := env.do(t, tc.method, tc.path, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestStartRunValidation(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	img := base64.StdEncoding.EncodeToString([]byte("png"))

	cases := map[string]string{
		"bad json":        `{"description":`,
		"empty inputs":    `{"description":"   "}`,
		"bad image":       `{"images":[{"data":"!!!"}]}`,
		"too many images": `{"images":[{"data":"` + img + `"},{"data":"` + img + `"},{"data":"` + img + `"}]}`,
		"bad style":       `{"description":"mug","settings":{"visual_style":"baroque"}}`,
	}
	for name, body := range cases {
		rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d (%s)", name, rec.Code, rec.Body.String())
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	if !strings.Contains(rec.Body.String(), `"stage":"idle"`) {
		t.Fatalf("session should stay idle after rejected runs: %s", rec.Body.String())
	}
}

func TestStartRunConflictAndReset(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	body := `{"description":"Walnut board","images":[{"data":"data:image/png;base64,` +
		base64.StdEncoding.EncodeToString([]byte("png")) +
		`"}],"settings":{"vertical_count":1,"seo_intensity":"Aggressive SEO","audience_focus":"DIY Users"}}`

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}
	var started struct {
		RunID string              `json:"run_id"`
		State domain.ProcessState `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if started.RunID == "" || started.State.Stage != domain.StageLockingIdentity || started.State.ProgressPercent != 5 {
		t.Fatalf("unexpected start response %+v", started)
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d", rec.Code)
	}
	var st domain.ProcessState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode reset: %v", err)
	}
	if st != domain.IdleState() {
		t.Fatalf("reset returned %+v", st)
	}

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start after reset: status %d", rec.Code)
	}
}

func TestHistoryDisabledWithoutDatabase(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	if rec := env.do(t, http.MethodGet, "/v1/runs/abc", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("run lookup: expected 501, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/runs?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/runs", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("session runs: expected 501, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `pinstrategy_http_requests_total{method="POST",route="/v1/sessions`) || !strings.Contains(body, `status="201"} 1`) {
		t.Fatalf("missing request counter in:\n%s", body)
	}
}

func TestSessionEventsStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	id := env.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/events", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	if first := readData(); !strings.Contains(first, `"stage":"idle"`) {
		t.Fatalf("first event should carry current state, got %s", first)
	}

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", `{"description":"Walnut board"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: status %d", rec.Code)
	}
	if next := readData(); !strings.Contains(next, `"stage":"locking_identity"`) {
		t.Fatalf("expected locking event, got %s", next)
	}
	close(env.client.gate)

	for {
		data := readData()
		if strings.Contains(data, `"status":"complete"`) {
			if !strings.Contains(data, `"pack_count":1`) {
				t.Fatalf("unexpected run event %s", data)
			}
			return
		}
	}
}

func TestSessionBundle(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	if rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/bundle.zip", ""); rec.Code != http.StatusConflict {
		t.Fatalf("bundle before run: expected 409, got %d", rec.Code)
	}

	close(env.client.gate)
	if rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", `{"description":"Walnut board"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("start: status %d", rec.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := env.do(t, http.MethodGet, "/v1/sessions/"+id, "")
		if strings.Contains(rec.Body.String(), `"stage":"complete"`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not complete: %s", rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/bundle.zip", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("bundle: status %d type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "pin-01.png,packs.json" {
		t.Fatalf("unexpected bundle entries %v", names)
	}
}
