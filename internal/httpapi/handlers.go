// Package httpapi holds the REST surface: call control for the dashboard and
// the two carrier webhooks. Handlers stay thin: parse/validate input, call
// internal services, return JSON.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/exotel"
	"callbridge/internal/stream"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// mockTimeline drives the simulated carrier when MOCK_MODE is on: the call
// rings, answers, and completes on a fixed schedule with no real dial.
var mockTimeline = []struct {
	after  time.Duration
	status calls.CallStatus
}{
	{500 * time.Millisecond, calls.StatusRinging},
	{1500 * time.Millisecond, calls.StatusAnswered},
	{8 * time.Second, calls.StatusCompleted},
}

// Dialer places the outbound carrier call. exotel.Client implements it;
// tests use fakes.
type Dialer interface {
	Dial(ctx context.Context, to, callSessionID string) (exotel.DialResult, error)
}

type Handlers struct {
	Calls  *calls.Service
	Dialer Dialer
	Auth   *auth.Manager

	TokenSecret string
	TokenTTL    time.Duration

	// WSBaseURL is the externally reachable ws:// base the carrier uses to
	// reach the media socket.
	WSBaseURL string
	MockMode  bool
	Logger    *slog.Logger
}

func (h Handlers) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// --- Call control ---

type startCallRequest struct {
	To string `json:"to"`
}

// StartCall creates a session record, places the dial, and hands the caller
// everything needed to follow the call: the session id, the carrier call id,
// and a capability token for the media socket.
func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || !phonePattern.MatchString(req.To) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
		return
	}

	ctx := c.Request.Context()
	sess, err := h.Calls.Create(ctx, req.To)
	if err != nil {
		h.log().Error("session create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session create failed"})
		return
	}

	dial, err := h.Dialer.Dial(ctx, req.To, sess.ID)
	if err != nil {
		// The record survives with a failed timeline entry; observers see why.
		h.log().Warn("dial failed", "call_session_id", sess.ID, "err", err)
		if _, uerr := h.Calls.UpdateStatus(ctx, sess.ID, calls.StatusFailed, err.Error()); uerr != nil {
			h.log().Error("failed-status append failed", "call_session_id", sess.ID, "err", uerr)
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	sess, err = h.Calls.SetExternalCallID(ctx, sess.ID, dial.CallSID)
	if err != nil {
		h.log().Error("external id persist failed", "call_session_id", sess.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session update failed"})
		return
	}

	if h.MockMode {
		h.scheduleMockTimeline(sess.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"callSessionId": sess.ID,
		"exotelCallId":  sess.ExotelCallID,
		"streamToken":   stream.MintToken(h.TokenSecret, h.TokenTTL),
	})
}

func (h Handlers) scheduleMockTimeline(callSessionID string) {
	for _, step := range mockTimeline {
		status := step.status
		time.AfterFunc(step.after, func() {
			if _, err := h.Calls.UpdateStatus(context.Background(), callSessionID, status, ""); err != nil {
				h.log().Warn("mock status append failed", "call_session_id", callSessionID, "err", err)
			}
		})
	}
}

func (h Handlers) ListCalls(c *gin.Context) {
	sessions, err := h.Calls.List(c.Request.Context())
	if err != nil {
		h.log().Error("session list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": sessions})
}

func (h Handlers) GetCall(c *gin.Context) {
	sess, ok, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log().Error("session lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// --- Carrier webhooks ---

// ExotelStatus ingests a carrier status transition and appends it to the
// session resolved by the carrier call id.
func (h Handlers) ExotelStatus(c *gin.Context) {
	ev, err := exotel.ParseStatusWebhook(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid status payload"})
		return
	}

	if _, err := h.Calls.UpdateStatusByExternalID(c.Request.Context(), ev.CallSID, ev.Status, ev.Reason); err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Call session not found"})
			return
		}
		h.log().Error("status append failed", "exotel_call_id", ev.CallSID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status append failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ExotelConnect serves the ExoML document pointing the answered call at the
// media socket, with a fresh capability token baked into the stream URL.
func (h Handlers) ExotelConnect(c *gin.Context) {
	callSessionID := c.Query("callSessionId")
	if callSessionID == "" {
		c.String(http.StatusBadRequest, "Missing callSessionId")
		return
	}

	token := stream.MintToken(h.TokenSecret, h.TokenTTL)
	wsURL := h.WSBaseURL + "/ws/exotel/stream?token=" + token + "&callSessionId=" + callSessionID
	doc, err := exotel.RenderConnectStream(wsURL)
	if err != nil {
		h.log().Error("exoml render failed", "err", err)
		c.String(http.StatusInternalServerError, "exoml render failed")
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(doc))
}

// --- Operator auth ---

type loginRequest struct {
	Operator string `json:"operator"`
}

// Login issues an operator token for the dashboard API.
//
// NOTE: There is no credential store; the shared secret is the trust
// boundary and the operator name exists for request logs only.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Operator == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.Operator)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}
