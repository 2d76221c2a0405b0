package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rostergate/rostergate/services/identity"
	"github.com/rostergate/rostergate/services/intent"
	"github.com/rostergate/rostergate/services/router"
	log "github.com/sirupsen/logrus"
)

const maxResponseSize = 256 << 10

// UnavailableError is returned when the engine could not be reached or
// answered with a server error. The action may or may not have run.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "orchestration engine unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Temporary() bool {
	return true
}

// Client hands authorized actions to the orchestration engine over HTTP
// and returns its text reply unchanged.
type Client struct {
	url    string
	token  string
	client *http.Client
}

func NewClient(url string, token string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type recordRef struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type executeRequest struct {
	Action       string                      `json:"action"`
	Args         []string                    `json:"args,omitempty"`
	Structured   bool                        `json:"structured"`
	ChatIdentity string                      `json:"chat_identity"`
	Records      []recordRef                 `json:"records"`
	NewBinding   bool                        `json:"new_binding"`
	Level        string                      `json:"permission_level"`
	Context      router.AuthorizationContext `json:"context"`
}

type executeResponse struct {
	Text string `json:"text"`
}

func (c *Client) Execute(ctx context.Context, action intent.CanonicalAction, ident identity.ResolvedIdentity, auth router.AuthorizationContext) (string, error) {
	payload := executeRequest{
		Action:       action.Name,
		Args:         action.Args,
		Structured:   action.Structured,
		ChatIdentity: auth.ChatIdentity,
		Records:      make([]recordRef, 0, len(ident.Records)),
		NewBinding:   ident.IsNewBinding,
		Level:        auth.Level.String(),
		Context:      auth,
	}
	for _, p := range ident.Records {
		payload.Records = append(payload.Records, recordRef{
			ID:     p.ID,
			Kind:   string(p.Kind()),
			Role:   string(p.Role),
			Status: string(p.Status),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	log.WithFields(log.Fields{
		"context":  "engine",
		"team":     auth.TeamID,
		"action":   action.Name,
		"status":   resp.StatusCode,
		"duration": time.Since(started).String(),
	}).Debug("engine call finished")

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", &UnavailableError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine rejected action %s: status %d", action.Name, resp.StatusCode)
	}

	var out executeResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode engine response: %w", err)
	}
	if out.Text == "" {
		return "", errors.New("engine returned an empty response")
	}
	return out.Text, nil
}
