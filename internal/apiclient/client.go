package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gerenciaesportes/internal/app/apiresp"
)

// APIError is a non-2xx answer of the API. Message is the server's text, unchanged.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  []apiresp.FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the API rooted at baseURL, e.g. http://localhost:8080/api/v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type TokenResponse struct {
	AccessToken        string `json:"accessToken"`
	TokenType          string `json:"tokenType"`
	ExpiresIn          int64  `json:"expiresIn"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

type User struct {
	ID                 int64    `json:"id"`
	Username           string   `json:"username"`
	Role               string   `json:"role"`
	MustChangePassword bool     `json:"mustChangePassword"`
	TeacherID          *int64   `json:"teacherId,omitempty"`
	Sections           []string `json:"sections"`
}

type Class struct {
	ID          int64    `json:"id"`
	Description string   `json:"description"`
	AgeCategory string   `json:"ageCategory"`
	Weekdays    []string `json:"weekdays"`
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime"`
	Modality    struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"modality"`
	Teacher struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"teacher"`
}

type Enrollment struct {
	ID        int64 `json:"id"`
	StudentID int64 `json:"studentId"`
	ClassID   int64 `json:"classId"`
	Active    bool  `json:"active"`
	Student   struct {
		ID       int64  `json:"id"`
		FullName string `json:"fullName"`
	} `json:"student"`
}

type AttendanceRecord struct {
	ID           int64  `json:"id"`
	EnrollmentID int64  `json:"enrollmentId"`
	StudentID    int64  `json:"studentId"`
	Date         string `json:"date"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
}

type AttendanceMark struct {
	EnrollmentID int64  `json:"enrollmentId"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
}

type AttendanceBatch struct {
	Date    string           `json:"date"`
	ClassID int64            `json:"classId"`
	Marks   []AttendanceMark `json:"marks"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	var out TokenResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/token", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Class(ctx context.Context, id int64) (*Class, error) {
	var out Class
	if err := c.do(ctx, http.MethodGet, "/classes/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Enrollments(ctx context.Context, classID int64) ([]Enrollment, error) {
	q := url.Values{"classId": {strconv.FormatInt(classID, 10)}}
	var out []Enrollment
	if err := c.do(ctx, http.MethodGet, "/enrollments?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Attendance(ctx context.Context, classID int64, date string) ([]AttendanceRecord, error) {
	path := fmt.Sprintf("/attendance/class/%d/date/%s", classID, url.PathEscape(date))
	var out []AttendanceRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SubmitAttendance(ctx context.Context, b AttendanceBatch) ([]AttendanceRecord, error) {
	var out []AttendanceRecord
	if err := c.do(ctx, http.MethodPost, "/attendance/batch", b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env apiresp.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if res.StatusCode >= 300 {
			return &APIError{Status: res.StatusCode, Code: apiresp.CodeFromStatus(res.StatusCode), Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if res.StatusCode >= 300 || !env.OK {
		apiErr := &APIError{Status: res.StatusCode, Code: apiresp.CodeFromStatus(res.StatusCode), Message: http.StatusText(res.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
