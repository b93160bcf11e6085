package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clipcraft/clipcraft-api/internal/domain/credit"
	"github.com/clipcraft/clipcraft-api/internal/middleware"
	"github.com/clipcraft/clipcraft-api/internal/pkg/jwt"
	"github.com/clipcraft/clipcraft-api/internal/pkg/veo"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type handlerFixture struct {
	router  http.Handler
	jwt     *jwt.Service
	ledger  *credit.Ledger
	tracker *JobTracker
}

func newHandlerFixture(t *testing.T, initialCredits int, limiter *middleware.RateLimiter) *handlerFixture {
	t.Helper()

	api := &scriptedAPI{handle: "op-1", polls: []pollStep{
		notDone(),
		done(`{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://cdn.example.com/v.mp4"}}]}}`),
	}}
	provider := NewVeoProvider(api, fakeMeasurer{}, VeoConfig{APIKey: "k", ProjectID: "p"})
	provider.poller.wait = noWait

	ledger := credit.NewLedger(credit.NewMemoryStore(), initialCredits)
	svc := NewService(Deps{
		Factory: NewFactory(ProviderGoogleVeo, provider),
		Ledger:  ledger,
		Videos:  NewMemoryRepository(),
	}, Config{Cost: 30})
	tracker := NewJobTracker(svc, time.Hour)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		tracker.Shutdown(ctx)
	})

	jwtSvc := jwt.NewService("generation-handler-secret", time.Hour)
	h := NewHandler(svc, tracker, limiter, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1/generations", h.Routes(middleware.Auth(jwtSvc)))
	r.Mount("/api/v1/videos", h.VideoRoutes(middleware.Auth(jwtSvc)))

	return &handlerFixture{router: r, jwt: jwtSvc, ledger: ledger, tracker: tracker}
}

func (f *handlerFixture) token(t *testing.T, accountID uuid.UUID) string {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(accountID, "user")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (f *handlerFixture) do(t *testing.T, token, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var parsed apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return w, parsed
}

func decodeJob(t *testing.T, raw json.RawMessage) Job {
	t.Helper()
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func TestCreateReturnsAcceptedJob(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)
	accountID := uuid.New()
	token := f.token(t, accountID)

	w, body := f.do(t, token, http.MethodPost, "/api/v1/generations", map[string]string{"prompt": "a cat on a skateboard"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	job := decodeJob(t, body.Data)
	if job.ID == uuid.Nil || job.AccountID != accountID {
		t.Fatalf("unexpected job: %+v", job)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w, body = f.do(t, token, http.MethodGet, "/api/v1/generations/"+job.ID.String(), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		job = decodeJob(t, body.Data)
		if job.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if job.Status != JobSucceeded || job.Result.VideoURL != "https://cdn.example.com/v.mp4?key=k" {
		t.Fatalf("unexpected finished job: %+v", job.Result)
	}

	other := f.token(t, uuid.New())
	if w, _ := f.do(t, other, http.MethodGet, "/api/v1/generations/"+job.ID.String(), nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another account, got %d", w.Code)
	}

	w, body = f.do(t, token, http.MethodGet, "/api/v1/videos", nil)
	var videos []Video
	json.Unmarshal(body.Data, &videos)
	if w.Code != http.StatusOK || len(videos) != 1 || videos[0].CreditsCharged != 30 {
		t.Fatalf("expected one gallery entry, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateWaitReturnsTerminalResult(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)
	accountID := uuid.New()

	w, body := f.do(t, f.token(t, accountID), http.MethodPost, "/api/v1/generations?wait=true", map[string]string{"prompt": "a cat"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	job := decodeJob(t, body.Data)
	if job.Status != JobSucceeded || job.Result == nil || !job.Result.Success {
		t.Fatalf("unexpected job: %+v", job)
	}

	if balance, _ := f.ledger.Balance(context.Background(), accountID); balance != 70 {
		t.Fatalf("expected balance 70, got %d", balance)
	}
}

func TestCreateWaitInsufficientCredits(t *testing.T) {
	f := newHandlerFixture(t, 10, nil)

	w, body := f.do(t, f.token(t, uuid.New()), http.MethodPost, "/api/v1/generations?wait=true", map[string]string{"prompt": "a cat"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
	if body.Error == nil || body.Error.Code != "INSUFFICIENT_CREDITS" {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
}

func TestCreateValidation(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)
	token := f.token(t, uuid.New())

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"malformed json", "{not json", http.StatusBadRequest},
		{"blank prompt", map[string]string{"prompt": "  "}, http.StatusUnprocessableEntity},
		{"unsupported ratio", map[string]string{"prompt": "a cat", "aspect_ratio": "4:3"}, http.StatusUnprocessableEntity},
		{"bad image data", map[string]interface{}{"prompt": "a cat", "image": map[string]string{"data": "%%%"}}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := f.do(t, token, http.MethodPost, "/api/v1/generations", tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(`{"prompt":"a cat"}`))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateRateLimited(t *testing.T) {
	f := newHandlerFixture(t, 1000, middleware.NewRateLimiter(1, 1))
	token := f.token(t, uuid.New())

	if w, _ := f.do(t, token, http.MethodPost, "/api/v1/generations", map[string]string{"prompt": "a cat"}); w.Code != http.StatusAccepted {
		t.Fatalf("expected first request accepted, got %d", w.Code)
	}
	w, _ := f.do(t, token, http.MethodPost, "/api/v1/generations", map[string]string{"prompt": "a cat"})
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", w.Code)
	}
}

func TestToRequestAcceptsDataURL(t *testing.T) {
	raw := []byte("png bytes")
	body := CreateGenerationRequest{
		Prompt: " a cat ",
		Image:  &imagePayload{Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)},
	}

	req, errs := body.toRequest()
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if req.Prompt != "a cat" || req.Image == nil || req.Image.MimeType != "image/png" || string(req.Image.Data) != "png bytes" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)

	w, body := f.do(t, f.token(t, uuid.New()), http.MethodGet, "/api/v1/generations/providers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var data struct {
		Providers []ProviderInfo `json:"providers"`
		Cost      int            `json:"cost"`
	}
	json.Unmarshal(body.Data, &data)
	if len(data.Providers) != 1 || data.Providers[0].Name != "Google Veo (Vertex AI)" || data.Cost != 30 {
		t.Fatalf("unexpected providers payload: %s", w.Body.String())
	}
}

func TestStreamDeliversTerminalEvent(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)
	accountID := uuid.New()
	token := f.token(t, accountID)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	job := f.tracker.Start(context.Background(), accountID, Request{Prompt: "a cat"})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/generations/" + job.ID.String() + "/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var last ProgressEvent
	for {
		var ev ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("read: %v", err)
		}
		if ev.Progress < last.Progress {
			t.Fatalf("progress decreased: %v after %v", ev.Progress, last.Progress)
		}
		last = ev
	}

	if last.Status != JobSucceeded || last.Result == nil || !last.Result.Success {
		t.Fatalf("expected terminal success event, got %+v", last)
	}
}

func TestStreamRejectsOtherAccounts(t *testing.T) {
	f := newHandlerFixture(t, 100, nil)
	job := f.tracker.Start(context.Background(), uuid.New(), Request{Prompt: "a cat"})

	w, _ := f.do(t, f.token(t, uuid.New()), http.MethodGet, "/api/v1/generations/"+job.ID.String()+"/stream", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

var _ OperationsAPI = (*veo.Client)(nil)
