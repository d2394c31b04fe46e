// Package exotel is the carrier adapter: outbound dial over Exotel's REST
// API, status webhook parsing, and the ExoML connect document. No provider
// SDK dependency; the surface we need is three endpoints.
package exotel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dialTimeout = 10 * time.Second

// Config carries the credentials and addressing for one Exotel account.
// BaseURL is overridable so tests can point at a local server.
type Config struct {
	AccountSID string
	APIKey     string
	APIToken   string
	CallerID   string
	AppID      string
	BaseURL    string

	// StatusCallbackURL is where Exotel posts call status transitions.
	StatusCallbackURL string

	// Mock skips the network entirely and fabricates call SIDs.
	Mock bool
}

// DialResult is the subset of the connect response we keep.
type DialResult struct {
	CallSID string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: dialTimeout},
	}
}

// Dial places an outbound call to `to` and connects the answered leg to the
// configured Exotel app, which in turn fetches the ExoML connect document.
func (c *Client) Dial(ctx context.Context, to, callSessionID string) (DialResult, error) {
	if c.cfg.Mock {
		return DialResult{CallSID: "mock-call-" + uuid.NewString()}, nil
	}

	form := url.Values{}
	form.Set("From", to)
	form.Set("CallerId", c.cfg.CallerID)
	form.Set("Url", fmt.Sprintf("http://my.exotel.com/%s/exoml/start_voice/%s", c.cfg.AccountSID, c.cfg.AppID))
	form.Set("CustomField", callSessionID)
	if c.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", c.cfg.StatusCallbackURL)
		form.Set("StatusCallbackContentType", "application/json")
	}

	endpoint := fmt.Sprintf("%s/v1/Accounts/%s/Calls/connect.json",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return DialResult{}, fmt.Errorf("exotel: build dial request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return DialResult{}, fmt.Errorf("exotel: dial: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return DialResult{}, fmt.Errorf("exotel: read dial response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var restErr struct {
			RestException struct {
				Message string `json:"Message"`
			} `json:"RestException"`
		}
		if json.Unmarshal(body, &restErr) == nil && restErr.RestException.Message != "" {
			return DialResult{}, fmt.Errorf("exotel: dial failed: %s", restErr.RestException.Message)
		}
		return DialResult{}, fmt.Errorf("exotel: dial failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		Call struct {
			Sid string `json:"Sid"`
		} `json:"Call"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return DialResult{}, fmt.Errorf("exotel: parse dial response: %w", err)
	}
	if parsed.Call.Sid == "" {
		return DialResult{}, fmt.Errorf("exotel: dial response missing call sid")
	}
	return DialResult{CallSID: parsed.Call.Sid}, nil
}
