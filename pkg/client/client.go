package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/terra-clan/proctor-engine/internal/models"
)

// Client is a Go SDK for the proctor-engine interviewer API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new proctor-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// ListOptions contains options for listing assignments
type ListOptions struct {
	AssessmentID string
	CandidateID  string
	Status       models.AssignmentStatus
	Limit        int
	Offset       int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.AssessmentID != "" {
		q.Set("assessment_id", o.AssessmentID)
	}
	if o.CandidateID != "" {
		q.Set("candidate_id", o.CandidateID)
	}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListAssessments retrieves the assessment catalog
func (c *Client) ListAssessments(ctx context.Context) ([]*models.Assessment, error) {
	var data struct {
		Assessments []*models.Assessment `json:"assessments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/assessments", nil, &data); err != nil {
		return nil, err
	}
	return data.Assessments, nil
}

// GetAssessment retrieves an assessment, including correct answers
func (c *Client) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	var a models.Assessment
	if err := c.do(ctx, http.MethodGet, "/api/v1/assessments/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Assign assigns an assessment to a candidate
func (c *Client) Assign(ctx context.Context, assessmentID string, req models.CreateAssignmentRequest) (*models.Assignment, error) {
	var a models.Assignment
	path := "/api/v1/assessments/" + url.PathEscape(assessmentID) + "/assignments"
	if err := c.do(ctx, http.MethodPost, path, req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssignments retrieves assignments matching opts
func (c *Client) ListAssignments(ctx context.Context, opts ListOptions) ([]*models.Assignment, error) {
	var data struct {
		Assignments []*models.Assignment `json:"assignments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/assignments"+opts.query(), nil, &data); err != nil {
		return nil, err
	}
	return data.Assignments, nil
}

// GetAssignment retrieves an assignment by ID
func (c *Client) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := c.do(ctx, http.MethodGet, "/api/v1/assignments/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CandidateToken is a signed credential for the candidate of an assignment
type CandidateToken struct {
	Token        string    `json:"token"`
	AssessmentID string    `json:"assessment_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CandidateToken issues a token the assignment's candidate uses to open
// the assessment
func (c *Client) CandidateToken(ctx context.Context, assignmentID string) (*CandidateToken, error) {
	var t CandidateToken
	path := "/api/v1/assignments/" + url.PathEscape(assignmentID) + "/token"
	if err := c.do(ctx, http.MethodPost, path, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ViolationReport retrieves the violations recorded for an assignment
func (c *Client) ViolationReport(ctx context.Context, assignmentID string) (*models.ViolationReport, error) {
	var r models.ViolationReport
	path := "/api/v1/assignments/" + url.PathEscape(assignmentID) + "/violations"
	if err := c.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do performs a request and decodes the data of the response envelope into out
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Code: "http_error", Message: string(respBody)}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if resp.StatusCode >= 400 || !result.Success {
		if result.Error == nil {
			return &APIError{Status: resp.StatusCode, Code: "http_error", Message: string(respBody)}
		}
		result.Error.Status = resp.StatusCode
		return result.Error
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

