package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/autherr"
	"github.com/MrEthical07/goSession/session"
)

const (
	LoginPath    = "/api/auth/login"
	RegisterPath = "/api/auth/register"
	RefreshPath  = "/api/auth/refresh"
	LogoutPath   = "/api/auth/logout"
	MePath       = "/api/auth/me"

	// RequestIDHeader is set on every outgoing call.
	RequestIDHeader = "X-Request-Id"

	maxBodyBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	// BaseURL is the scheme and host of the auth service, optionally with a
	// path prefix.
	BaseURL string
	// HTTPClient performs unauthenticated calls. Defaults to a client with a
	// 10s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the auth service.
type Client struct {
	base   string
	plain  *http.Client
	authed atomic.Pointer[http.Client]
	log    *slog.Logger
}

var _ session.Remote = (*Client)(nil)

// New validates the base URL and returns a Client.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("authapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("authapi: base url %q must be http or https", opts.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("authapi: base url %q has no host", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:  strings.TrimRight(u.String(), "/"),
		plain: hc,
		log:   log,
	}, nil
}

// UseAuthorized routes "me" calls through hc, normally the pipeline client.
func (c *Client) UseAuthorized(hc *http.Client) {
	c.authed.Store(hc)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
	Details json.RawMessage `json:"details"`
}

func (e envelope) message(fallback string) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	case e.Msg != "":
		return e.Msg
	}
	return fallback
}

func (e envelope) fields() map[string]string {
	if f := normalizeFields(e.Errors); len(f) > 0 {
		return f
	}
	return normalizeFields(e.Details)
}

type reply struct {
	status int
	env    envelope
}

func (r reply) ok() bool {
	return r.status >= 200 && r.status < 300 && r.env.Success
}

// Login posts credentials and returns the issued pair and user.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (*session.LoginResult, error) {
	r, err := c.call(ctx, c.plain, http.MethodPost, LoginPath, "", creds)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, loginFailure(r)
	}

	var data struct {
		AccessToken  string       `json:"access_token"`
		RefreshToken string       `json:"refresh_token"`
		User         session.User `json:"user"`
	}
	if err := decodeData(r.env, &data); err != nil {
		return nil, err
	}
	return &session.LoginResult{
		Message:      r.env.Message,
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		User:         data.User,
	}, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg session.Registration) (*session.RegistrationResult, error) {
	r, err := c.call(ctx, c.plain, http.MethodPost, RegisterPath, "", reg)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, registerFailure(r)
	}
	return &session.RegistrationResult{Success: true, Message: r.env.Message}, nil
}

// Refresh sends the refresh token as the bearer credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*session.RefreshResult, error) {
	r, err := c.call(ctx, c.plain, http.MethodPost, RefreshPath, refreshToken, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, &autherr.Error{
			Kind:    autherr.RefreshFailed,
			Message: r.env.message("Token refresh failed"),
			Status:  r.status,
		}
	}

	var data struct {
		AccessToken  string        `json:"access_token"`
		RefreshToken string        `json:"refresh_token"`
		User         *session.User `json:"user"`
	}
	if err := decodeData(r.env, &data); err != nil {
		return nil, autherr.Wrap(autherr.RefreshFailed, "Token refresh failed", err)
	}
	if data.AccessToken == "" {
		return nil, &autherr.Error{Kind: autherr.RefreshFailed, Message: "Refresh response carried no access token", Status: r.status}
	}
	return &session.RefreshResult{
		Message:      r.env.Message,
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		User:         data.User,
	}, nil
}

// Logout revokes the access token server side.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	r, err := c.call(ctx, c.plain, http.MethodPost, LogoutPath, accessToken, nil)
	if err != nil {
		return err
	}
	if r.status < 200 || r.status >= 300 {
		return statusFailure(r, "Logout failed")
	}
	return nil
}

// Me asks who the access token belongs to. A successful answer without a
// user yields (nil, nil).
func (c *Client) Me(ctx context.Context, accessToken string) (*session.User, error) {
	hc := c.authed.Load()
	if hc == nil {
		hc = c.plain
	}
	r, err := c.call(ctx, hc, http.MethodGet, MePath, accessToken, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, statusFailure(r, "Unable to load current user")
	}

	var data struct {
		User *session.User `json:"user"`
	}
	if len(r.env.Data) == 0 {
		return nil, nil
	}
	if err := decodeData(r.env, &data); err != nil {
		return nil, err
	}
	return data.User, nil
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path, bearer string, body any) (reply, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return reply{}, fmt.Errorf("authapi: encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return reply{}, fmt.Errorf("authapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return reply{}, transportFailure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return reply{}, transportFailure(err)
	}

	r := reply{status: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r.env); err != nil {
		c.log.Debug("goSession: unreadable auth response",
			"path", path,
			"status", resp.StatusCode,
			"request_id", req.Header.Get(RequestIDHeader),
		)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return reply{}, &autherr.Error{
				Kind:    autherr.ServerError,
				Message: "Unreadable response from auth service",
				Status:  resp.StatusCode,
				Err:     err,
			}
		}
		// Non-JSON error pages still carry a meaningful status.
		r.env = envelope{}
	}
	return r, nil
}

func decodeData(env envelope, dst any) error {
	if len(env.Data) == 0 {
		return autherr.New(autherr.ServerError, "Auth response carried no data")
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return autherr.Wrap(autherr.ServerError, "Unreadable response from auth service", err)
	}
	return nil
}

// transportFailure keeps errors already classified by a wrapping transport
// (the pipeline) and maps everything else onto NetworkError.
func transportFailure(err error) error {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return ae
	}
	msg := "Network error: unable to reach auth service"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "Network error: auth service timed out"
	}
	return autherr.Wrap(autherr.NetworkError, msg, err)
}

func loginFailure(r reply) error {
	e := &autherr.Error{Message: r.env.message("Login failed"), Status: r.status}
	switch {
	case r.status >= 500:
		e.Kind = autherr.ServerError
	case r.status == http.StatusBadRequest || r.status == http.StatusUnprocessableEntity:
		e.Kind = autherr.ValidationError
		e.Fields = r.env.fields()
	default:
		e.Kind = autherr.InvalidCredentials
	}
	return e
}

func registerFailure(r reply) error {
	e := &autherr.Error{Message: r.env.message("Registration failed"), Status: r.status}
	if r.status >= 500 {
		e.Kind = autherr.ServerError
		return e
	}
	e.Kind = autherr.ValidationError
	e.Fields = r.env.fields()
	return e
}

func statusFailure(r reply, fallback string) error {
	e := &autherr.Error{Message: r.env.message(fallback), Status: r.status}
	switch {
	case r.status == http.StatusUnauthorized, r.status == http.StatusForbidden:
		e.Kind = autherr.Unauthorized
	default:
		e.Kind = autherr.ServerError
	}
	return e
}
