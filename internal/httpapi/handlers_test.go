package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/exotel"
	"callbridge/internal/stream"
)

type fakeDialer struct {
	sid string
	err error

	lastTo      string
	lastSession string
}

func (d *fakeDialer) Dial(_ context.Context, to, callSessionID string) (exotel.DialResult, error) {
	d.lastTo = to
	d.lastSession = callSessionID
	if d.err != nil {
		return exotel.DialResult{}, d.err
	}
	return exotel.DialResult{CallSID: d.sid}, nil
}

type apiFixture struct {
	router *gin.Engine
	svc    *calls.Service
	dialer *fakeDialer
	h      Handlers
}

func newAPIFixture(t *testing.T, mutate func(*Handlers)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := calls.NewService(calls.NewMemoryStore())
	dialer := &fakeDialer{sid: "CAtest1"}
	h := Handlers{
		Calls:       svc,
		Dialer:      dialer,
		TokenSecret: "secret",
		TokenTTL:    time.Minute,
		WSBaseURL:   "ws://relay.example",
	}
	if mutate != nil {
		mutate(&h)
	}

	r := gin.New()
	r.POST("/api/call/start", h.StartCall)
	r.GET("/api/call", h.ListCalls)
	r.GET("/api/call/:id", h.GetCall)
	r.POST("/api/exotel/status", h.ExotelStatus)
	r.POST("/api/exotel/connect", h.ExotelConnect)
	r.POST("/api/auth/login", h.Login)

	return &apiFixture{router: r, svc: svc, dialer: dialer, h: h}
}

func (f *apiFixture) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestStartCallHappyPath(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/call/start", "application/json", `{"to":"+919876543210"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	out := decodeJSON(t, w)
	id, _ := out["callSessionId"].(string)
	if id == "" {
		t.Fatalf("expected callSessionId in %v", out)
	}
	if out["exotelCallId"] != "CAtest1" {
		t.Fatalf("expected carrier id, got %v", out["exotelCallId"])
	}
	token, _ := out["streamToken"].(string)
	if !stream.VerifyToken(token, "secret", time.Minute) {
		t.Fatalf("expected verifiable stream token")
	}

	if f.dialer.lastTo != "+919876543210" || f.dialer.lastSession != id {
		t.Fatalf("dialer saw to=%q session=%q", f.dialer.lastTo, f.dialer.lastSession)
	}

	sess, ok, _ := f.svc.Get(context.Background(), id)
	if !ok || sess.ExotelCallID != "CAtest1" || sess.Status != calls.StatusInitiated {
		t.Fatalf("unexpected stored session %+v", sess)
	}
}

func TestStartCallRejectsBadNumbers(t *testing.T) {
	f := newAPIFixture(t, nil)

	for _, body := range []string{
		`{}`,
		`{"to":"12345"}`,
		`{"to":"+91abcdefghij"}`,
		`{"to":"+12345678901234567"}`,
		`not json`,
	} {
		w := f.do(t, http.MethodPost, "/api/call/start", "application/json", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
		if out := decodeJSON(t, w); out["error"] != "Invalid phone number" {
			t.Fatalf("body %q: unexpected error %v", body, out["error"])
		}
	}

	if sessions, _ := f.svc.List(context.Background()); len(sessions) != 0 {
		t.Fatalf("rejected requests must not create sessions")
	}
}

func TestStartCallDialFailureMarksSessionFailed(t *testing.T) {
	f := newAPIFixture(t, func(h *Handlers) {})
	f.dialer.err = errors.New("carrier unreachable")

	w := f.do(t, http.MethodPost, "/api/call/start", "application/json", `{"to":"+919876543210"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if out := decodeJSON(t, w); out["error"] != "carrier unreachable" {
		t.Fatalf("unexpected error %v", out["error"])
	}

	sessions, _ := f.svc.List(context.Background())
	if len(sessions) != 1 {
		t.Fatalf("expected the failed session to survive, got %d", len(sessions))
	}
	sess := sessions[0]
	if sess.Status != calls.StatusFailed {
		t.Fatalf("expected failed status, got %s", sess.Status)
	}
	last := sess.Timeline[len(sess.Timeline)-1]
	if last.Reason != "carrier unreachable" {
		t.Fatalf("expected dial error in timeline, got %+v", last)
	}
}

func TestStartCallMockModeRunsTimeline(t *testing.T) {
	saved := mockTimeline
	mockTimeline = []struct {
		after  time.Duration
		status calls.CallStatus
	}{
		{time.Millisecond, calls.StatusRinging},
		{2 * time.Millisecond, calls.StatusAnswered},
		{5 * time.Millisecond, calls.StatusCompleted},
	}
	defer func() { mockTimeline = saved }()

	f := newAPIFixture(t, func(h *Handlers) { h.MockMode = true })

	w := f.do(t, http.MethodPost, "/api/call/start", "application/json", `{"to":"+919876543210"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	id := decodeJSON(t, w)["callSessionId"].(string)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, _, _ := f.svc.Get(context.Background(), id)
		if sess.Status == calls.StatusCompleted && len(sess.Timeline) == 4 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	sess, _, _ := f.svc.Get(context.Background(), id)
	t.Fatalf("mock timeline did not finish: %+v", sess.Timeline)
}

func TestListAndGetCalls(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess, _ := f.svc.Create(context.Background(), "+919876543210")

	w := f.do(t, http.MethodGet, "/api/call", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decodeJSON(t, w)
	if list, ok := out["calls"].([]any); !ok || len(list) != 1 {
		t.Fatalf("unexpected list payload %v", out)
	}

	w = f.do(t, http.MethodGet, "/api/call/"+sess.ID, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if out := decodeJSON(t, w); out["id"] != sess.ID {
		t.Fatalf("unexpected session payload %v", out)
	}

	w = f.do(t, http.MethodGet, "/api/call/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestExotelStatusWebhook(t *testing.T) {
	f := newAPIFixture(t, nil)
	sess, _ := f.svc.Create(context.Background(), "+919876543210")
	_, _ = f.svc.SetExternalCallID(context.Background(), sess.ID, "CAhook1")

	w := f.do(t, http.MethodPost, "/api/exotel/status",
		"application/x-www-form-urlencoded", "CallSid=CAhook1&Status=answered")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _, _ := f.svc.Get(context.Background(), sess.ID)
	if got.Status != calls.StatusAnswered || len(got.Timeline) != 2 {
		t.Fatalf("unexpected session after webhook %+v", got)
	}
}

func TestExotelStatusUnknownCall(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/exotel/status",
		"application/x-www-form-urlencoded", "CallSid=CAnope&Status=ringing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestExotelStatusBadPayload(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/exotel/status",
		"application/x-www-form-urlencoded", "Status=teleported")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExotelConnectServesExoML(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/exotel/connect?callSessionId=cs9", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Connect>") || !strings.Contains(body, "callSessionId=cs9") {
		t.Fatalf("unexpected exoml %s", body)
	}
	if !strings.Contains(body, "ws://relay.example/ws/exotel/stream?token=") {
		t.Fatalf("expected stream url in %s", body)
	}
}

func TestExotelConnectRequiresSessionID(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/exotel/connect", "", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLoginIssuesOperatorToken(t *testing.T) {
	mgr, _ := auth.NewManager("dash-secret", time.Hour)
	f := newAPIFixture(t, func(h *Handlers) { h.Auth = mgr })

	w := f.do(t, http.MethodPost, "/api/auth/login", "application/json", `{"operator":"ops"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	tok, _ := decodeJSON(t, w)["token"].(string)
	claims, err := mgr.Verify(tok, time.Now())
	if err != nil || claims.Operator != "ops" {
		t.Fatalf("expected verifiable token, got err=%v claims=%+v", err, claims)
	}
}

func TestLoginWithoutAuthConfigured(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/auth/login", "application/json", `{"operator":"ops"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
