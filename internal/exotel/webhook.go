package exotel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"callbridge/internal/calls"
)

// StatusEvent is one status transition posted by the carrier.
type StatusEvent struct {
	CallSID string
	Status  calls.CallStatus
	Reason  string
}

// ParseStatusWebhook accepts both encodings Exotel uses for status
// callbacks: JSON when StatusCallbackContentType asks for it, form
// otherwise. Field names are the carrier's (CallSid, Status, Reason).
func ParseStatusWebhook(r *http.Request) (StatusEvent, error) {
	var callSID, rawStatus, reason string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			CallSid string `json:"CallSid"`
			Status  string `json:"Status"`
			Reason  string `json:"Reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return StatusEvent{}, errors.New("exotel: malformed status payload")
		}
		callSID, rawStatus, reason = payload.CallSid, payload.Status, payload.Reason
	} else {
		if err := r.ParseForm(); err != nil {
			return StatusEvent{}, errors.New("exotel: malformed status payload")
		}
		callSID = r.PostFormValue("CallSid")
		rawStatus = r.PostFormValue("Status")
		reason = r.PostFormValue("Reason")
	}

	if callSID == "" {
		return StatusEvent{}, errors.New("exotel: status payload missing CallSid")
	}
	status, ok := calls.ParseStatus(strings.ToLower(rawStatus))
	if !ok {
		return StatusEvent{}, errors.New("exotel: unknown call status")
	}
	return StatusEvent{CallSID: callSID, Status: status, Reason: reason}, nil
}
