package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jxucoder/threadline/internal/orchestrator"
	"github.com/jxucoder/threadline/internal/policy"
	"github.com/jxucoder/threadline/internal/search"
	"github.com/jxucoder/threadline/internal/server"
)

// apiClient talks to a running threadline server.
type apiClient struct {
	baseURL string
	email   string
	http    *http.Client
}

func newAPIClient() *apiClient {
	// Turns may take the whole poll budget on the server.
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		email:   userEmail,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) post(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.email != "" {
		req.Header.Set(server.IdentityHeader, c.email)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: threadline serve", err)
	}
	return resp, nil
}

// Converse implements session.Converser over POST /api/chat.
func (c *apiClient) Converse(ctx context.Context, input, sessionID string) (orchestrator.Result, error) {
	resp, err := c.post(ctx, "/api/chat", map[string]string{"input": input, "sessionId": sessionID})
	if err != nil {
		return orchestrator.Result{SessionID: sessionID}, err
	}
	defer resp.Body.Close()

	var body policy.ChatBody
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		return orchestrator.Result{SessionID: sessionID}, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}

	res := orchestrator.Result{Reply: body.Reply, SessionID: body.SessionID}
	switch resp.StatusCode {
	case http.StatusOK:
		res.Outcome = replyOutcome(resp.Header.Get("Cache-Control"), body.Reply)
		return res, nil
	case http.StatusGatewayTimeout:
		res.Outcome = orchestrator.OutcomeTimeout
		return res, &orchestrator.RunError{Op: "chat", SessionID: body.SessionID, Err: orchestrator.ErrTimeout}
	default:
		res.Outcome = orchestrator.OutcomeError
		return res, &orchestrator.RunError{Op: "chat", SessionID: body.SessionID,
			Err: fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Error)}
	}
}

// replyOutcome recovers the outcome of a 200 chat reply. Degraded replies are
// served uncacheable.
func replyOutcome(cacheControl, reply string) orchestrator.Outcome {
	switch {
	case cacheControl != policy.NoCache:
		return orchestrator.OutcomeCompleted
	case reply == orchestrator.ReplyCancelled:
		return orchestrator.OutcomeCancelled
	default:
		return orchestrator.OutcomeFailed
	}
}

func (c *apiClient) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	resp, err := c.post(ctx, "/api/search", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, errors.New(e.Error)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}

	var out search.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &out, nil
}
