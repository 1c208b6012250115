// Package client is a thin HTTP client for the exam API, used by the
// terminal exam runner.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/agora-edu/agora/internal/model"
)

// Client talks to a running exam server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Grading a submission may involve several LLM calls.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Login authenticates and keeps the session cookie for later calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return err
		}
		c.http.Jar = jar
	}

	body := map[string]string{"username": username, "password": password}
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/api/login", body, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// ListExams fetches the available exams.
func (c *Client) ListExams(ctx context.Context) ([]model.ExamSummary, error) {
	var exams []model.ExamSummary
	if err := c.get(ctx, "/api/exams", &exams); err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// FetchExam fetches one exam with its questions.
func (c *Client) FetchExam(ctx context.Context, examID string) (model.Exam, error) {
	var exam model.Exam
	if err := c.get(ctx, "/api/exams/"+examID, &exam); err != nil {
		return model.Exam{}, fmt.Errorf("fetch exam %s: %w", examID, err)
	}
	return exam, nil
}

// Submit sends a flat answer list for grading. It implements the exam
// runner's Submitter interface.
func (c *Client) Submit(ctx context.Context, examID string, answers []model.Answer) (model.SubmissionResult, error) {
	body := map[string]any{"answers": answers}
	var result model.SubmissionResult
	if err := c.post(ctx, "/api/exams/"+examID+"/submit", body, &result); err != nil {
		return model.SubmissionResult{}, fmt.Errorf("submit exam %s: %w", examID, err)
	}
	return result, nil
}

// SubmitSections sends a section-grouped submission for grading.
func (c *Client) SubmitSections(ctx context.Context, sub model.SectionSubmission) (model.SectionResult, error) {
	var result model.SectionResult
	if err := c.post(ctx, "/api/exams/"+sub.ExamID+"/submit-sections", sub, &result); err != nil {
		return model.SectionResult{}, fmt.Errorf("submit sections for exam %s: %w", sub.ExamID, err)
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, apiErrorMessage(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiErrorMessage extracts the error field from an error response body,
// falling back to the HTTP status.
func apiErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			return body.Error
		}
	}
	return resp.Status
}
