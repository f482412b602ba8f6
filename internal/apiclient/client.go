// Package apiclient talks JSON to the marketplace admin REST API.
//
// Every request except login carries the stored bearer token and a fresh
// X-Request-ID. A 401 outside login clears the stored session. Requests are
// never retried.
package apiclient

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

	"github.com/google/uuid"

	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/ordering"
)

// HeaderRequestID is sent on every request.
const HeaderRequestID = "X-Request-ID"

const maxBodyBytes = 4 << 20

// Session supplies the bearer token and is cleared on 401.
type Session interface {
	Token(ctx context.Context) (string, error)
	ClearSession(ctx context.Context) error
}

type Options struct {
	BaseURL   string
	LoginPath string

	// Timeout is applied to the http.Client. Zero means none.
	Timeout time.Duration

	Session    Session
	HTTPClient *http.Client
	Logger     *logger.Logger

	// RequestID generates X-Request-ID values. Defaults to uuid v7.
	RequestID func() string
}

type Client struct {
	baseURL    string
	loginPath  string
	session    Session
	httpClient *http.Client
	log        *logger.Logger
	requestID  func() string
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	if opts.Session == nil {
		return nil, errors.New("session required")
	}

	loginPath := strings.TrimSpace(opts.LoginPath)
	if loginPath == "" {
		loginPath = "/auth/login"
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	requestID := opts.RequestID
	if requestID == nil {
		requestID = newRequestID
	}

	return &Client{
		baseURL:    baseURL,
		loginPath:  loginPath,
		session:    opts.Session,
		httpClient: hc,
		log:        log,
		requestID:  requestID,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// CreateInput is the body of a create request.
type CreateInput struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"isActive,omitempty"`
	Order    *int   `json:"order,omitempty"`
}

// Patch is a partial update. Nil fields are not sent.
type Patch struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
	Order    *int    `json:"order,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.IsActive == nil && p.Order == nil
}

// List fetches a whole collection.
func (c *Client) List(ctx context.Context, path string) ([]ordering.Entity, error) {
	raw, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	list, err := decodeList(raw)
	if err != nil {
		return nil, apperr.Transport(apperr.CodeRequestFailed, 0, err)
	}
	return list, nil
}

// Create adds a member to the collection at path and returns it as the
// backend echoed it. An empty response body yields a zero Entity.
func (c *Client) Create(ctx context.Context, path string, in CreateInput) (ordering.Entity, error) {
	raw, err := c.do(ctx, http.MethodPost, path, in, true)
	if err != nil {
		return ordering.Entity{}, err
	}
	e, err := decodeEntity(raw)
	if err != nil {
		return ordering.Entity{}, apperr.Transport(apperr.CodeRequestFailed, 0, err)
	}
	return e, nil
}

// Update sends a partial update for one member.
func (c *Client) Update(ctx context.Context, itemPath string, p Patch) error {
	_, err := c.do(ctx, http.MethodPatch, itemPath, p, true)
	return err
}

// Delete removes one member.
func (c *Client) Delete(ctx context.Context, itemPath string) error {
	_, err := c.do(ctx, http.MethodDelete, itemPath, nil, true)
	return err
}

// Reorder submits a batch reorder body in a single request.
func (c *Client) Reorder(ctx context.Context, method, path string, body any) error {
	_, err := c.do(ctx, strings.ToUpper(method), path, body, true)
	return err
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	Data        *struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Login exchanges credentials for a bearer token. It does not store the
// token; a 401 here is reported as bad credentials and leaves the session
// alone.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return "", apperr.Validation(apperr.CodeMissingField, "email and password are required")
	}

	raw, err := c.do(ctx, http.MethodPost, c.loginPath, loginRequest{Email: email, Password: password}, false)
	if err != nil {
		if apperr.StatusOf(err) == http.StatusUnauthorized {
			e := apperr.Unauthorized(apperr.CodeBadCredentials, "invalid email or password")
			e.Err = err
			return "", e
		}
		return "", err
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", apperr.Transport(apperr.CodeRequestFailed, 0, fmt.Errorf("decode login response: %w", err))
	}
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" && resp.Data != nil {
		token = resp.Data.Token
	}
	if token == "" {
		return "", apperr.Transport(apperr.CodeRequestFailed, 0, errors.New("login response carried no token"))
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, authed bool) ([]byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var token string
	if authed {
		t, err := c.session.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}
		if t == "" {
			return nil, apperr.Unauthorized(apperr.CodeNotLoggedIn, "not logged in")
		}
		token = t
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	reqID := c.requestID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed", "method", method, "path", path, "request_id", reqID, "error", err.Error())
		return nil, apperr.Transport(apperr.CodeRequestFailed, 0, err)
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()

	c.log.Debug("request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if readErr != nil {
		return nil, apperr.Transport(apperr.CodeRequestFailed, resp.StatusCode, readErr)
	}

	if resp.StatusCode == http.StatusUnauthorized && authed {
		if err := c.session.ClearSession(ctx); err != nil {
			c.log.Error("failed to clear session after 401", "error", err.Error())
		}
		e := apperr.Unauthorized(apperr.CodeSessionExpired, "session expired or revoked, log in again")
		e.Err = parseHTTPError(resp.StatusCode, raw)
		return nil, e
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Transport(apperr.CodeRequestFailed, resp.StatusCode, parseHTTPError(resp.StatusCode, raw))
	}
	return raw, nil
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
