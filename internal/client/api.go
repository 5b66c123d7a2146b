package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"codesession/pkg/types"
)

// API is the typed REST surface the synchronizer talks to. Every call
// goes through the retrying fetcher; request bodies are rebuilt per
// attempt so retries never replay a drained reader.
type API struct {
	baseURL string
	fetcher *Fetcher
}

// NewAPI creates an API client rooted at baseURL (scheme://host:port)
func NewAPI(baseURL string, fetcher *Fetcher) *API {
	if fetcher == nil {
		fetcher = NewFetcher(nil, DefaultRetryPolicy())
	}
	return &API{
		baseURL: baseURL,
		fetcher: fetcher,
	}
}

// RevisionEntry is one reconstructed history entry as served by the
// revisions endpoint
type RevisionEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
}

type updateCodeRequest struct {
	StudentID         string         `json:"studentId"`
	Code              string         `json:"code"`
	ExecutionSettings map[string]any `json:"executionSettings,omitempty"`
}

type executeCodeRequest struct {
	StudentID         string         `json:"studentId"`
	Code              string         `json:"code"`
	ExecutionSettings map[string]any `json:"executionSettings,omitempty"`
}

type featureStudentRequest struct {
	StudentID string `json:"studentId"`
}

type joinSessionRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
}

type updateCodeResponse struct {
	Student *types.Student `json:"student"`
}

type joinSessionResponse struct {
	Student *types.Student `json:"student"`
}

type revisionsResponse struct {
	Revisions []RevisionEntry `json:"revisions"`
}

// GetSessionState fetches the full session state: session, students,
// and the featured-student projection
func (a *API) GetSessionState(ctx context.Context, sessionID string) (*types.SessionState, error) {
	var state types.SessionState
	path := fmt.Sprintf("/sessions/%s/state", url.PathEscape(sessionID))
	if err := a.get(ctx, path, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateCode persists a student's code and returns the stored record
func (a *API) UpdateCode(ctx context.Context, sessionID, studentID, code string, settings map[string]any) (*types.Student, error) {
	req := updateCodeRequest{StudentID: studentID, Code: code, ExecutionSettings: settings}
	var resp updateCodeResponse
	path := fmt.Sprintf("/sessions/%s/code", url.PathEscape(sessionID))
	if err := a.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Student, nil
}

// ExecuteCode runs the given code server-side and returns the outcome
func (a *API) ExecuteCode(ctx context.Context, sessionID, studentID, code string, settings map[string]any) (*types.ExecutionResult, error) {
	req := executeCodeRequest{StudentID: studentID, Code: code, ExecutionSettings: settings}
	var result types.ExecutionResult
	path := fmt.Sprintf("/sessions/%s/execute", url.PathEscape(sessionID))
	if err := a.post(ctx, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FeatureStudent marks a student as featured; an empty studentID clears
// the current selection
func (a *API) FeatureStudent(ctx context.Context, sessionID, studentID string) error {
	req := featureStudentRequest{StudentID: studentID}
	path := fmt.Sprintf("/sessions/%s/feature", url.PathEscape(sessionID))
	return a.post(ctx, path, req, nil)
}

// JoinSession registers a student in the session and returns the
// server-side record (starter code for first joins, existing code for
// rejoins)
func (a *API) JoinSession(ctx context.Context, sessionID, userID, name string) (*types.Student, error) {
	req := joinSessionRequest{StudentID: userID, Name: name}
	var resp joinSessionResponse
	path := fmt.Sprintf("/sessions/%s/join", url.PathEscape(sessionID))
	if err := a.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Student, nil
}

// GetRevisions fetches a student's reconstructed code history
func (a *API) GetRevisions(ctx context.Context, sessionID, studentID string) ([]RevisionEntry, error) {
	var resp revisionsResponse
	path := fmt.Sprintf("/sessions/%s/revisions?studentId=%s", url.PathEscape(sessionID), url.QueryEscape(studentID))
	if err := a.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Revisions, nil
}

func (a *API) get(ctx context.Context, path string, out any) error {
	resp, err := a.fetcher.Do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, a.baseURL+path, nil)
	})
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (a *API) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	resp, err := a.fetcher.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, a.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(resp),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// extractErrorMessage pulls the human-readable message out of an error
// response body, falling back to a generic status description when the
// body is not the expected shape
func extractErrorMessage(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fmt.Sprintf("request failed with status %d", resp.StatusCode)
}
