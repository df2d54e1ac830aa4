package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"RoleplayChat/internal/session"
)

// StatusError is a non-2xx answer from the session API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("session API returned %d: %s", e.StatusCode, e.Message)
}

// API talks to the session API over HTTP.
type API struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// History fetches the stored turns of a session.
func (a *API) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	var resp struct {
		Messages []session.Turn `json:"messages"`
	}
	if err := a.do(ctx, http.MethodGet, a.chatURL(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Append posts the conversation ending in the new user turn and returns the reply text.
func (a *API) Append(ctx context.Context, sessionID string, turns []session.Turn) (string, error) {
	body := struct {
		Messages  []session.Turn `json:"messages"`
		SessionID string         `json:"sessionId"`
	}{Messages: turns, SessionID: sessionID}

	var resp struct {
		Message string `json:"message"`
	}
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/api/chat", body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Delete removes the stored history of a session.
func (a *API) Delete(ctx context.Context, sessionID string) error {
	return a.do(ctx, http.MethodDelete, a.chatURL(sessionID), nil, nil)
}

func (a *API) chatURL(sessionID string) string {
	return a.baseURL + "/api/chat?sessionId=" + url.QueryEscape(sessionID)
}

func (a *API) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
