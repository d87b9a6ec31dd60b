// Package remote is the authenticated gateway to a deployment's REST API.
//
// Every fetch maps the response page into schema entities and writes them
// through to the local cache before returning:
//
//	oauth := remote.NewOAuth(remote.WithClientCredentials(id, secret))
//	sessions := session.NewManager(oauth, session.NewKeyringStore(""), logger)
//	client := remote.New(repository, sessions, remote.WithLogger(logger))
//	posts, err := client.Posts(ctx, deployment, filter, 20, 0)
package remote

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
	"time"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/repo"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/session"
)

const (
	apiPrefix = "/api/v3"

	// DefaultScope is requested on every token grant.
	DefaultScope = "api posts forms tags sets users media config"

	// DefaultSearchURL is the public directory of hosted deployments.
	DefaultSearchURL = "https://api.ushahidi.io/deployments"

	// DefaultSource tags posts created by this client.
	DefaultSource = "mobile"

	defaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response is kept in errors.
	maxErrorBody = 512
)

// Sessions resolves the credentials of a deployment.
// *session.Manager implements it.
type Sessions interface {
	GetLogin(ctx context.Context, d *schema.Deployment) (*session.Login, error)
	Login(ctx context.Context, d *schema.Deployment) (*session.Login, error)
	Refresh(ctx context.Context, d *schema.Deployment, refreshToken string) (*session.Login, error)
}

type settings struct {
	httpClient   *http.Client
	logger       *slog.Logger
	clientID     string
	clientSecret string
	scope        string
	source       string
	searchURL    string
	videos       VideoHost
	geocoder     Geocoder
}

// Option configures a Client or OAuth.
type Option func(*settings)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithClientCredentials sets the OAuth client the token grants identify as.
func WithClientCredentials(id, secret string) Option {
	return func(s *settings) {
		s.clientID = id
		s.clientSecret = secret
	}
}

// WithScope overrides DefaultScope.
func WithScope(scope string) Option {
	return func(s *settings) {
		s.scope = scope
	}
}

// WithSource overrides the source posts are tagged with.
func WithSource(source string) Option {
	return func(s *settings) {
		s.source = source
	}
}

// WithSearchURL overrides the deployment directory endpoint.
func WithSearchURL(u string) Option {
	return func(s *settings) {
		s.searchURL = u
	}
}

// WithVideoHost sets where video values are uploaded.
func WithVideoHost(h VideoHost) Option {
	return func(s *settings) {
		s.videos = h
	}
}

// WithGeocoder sets how address values are resolved to coordinates.
func WithGeocoder(g Geocoder) Option {
	return func(s *settings) {
		s.geocoder = g
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		httpClient: &http.Client{Timeout: defaultTimeout},
		scope:      DefaultScope,
		source:     DefaultSource,
		searchURL:  DefaultSearchURL,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Client performs authenticated calls against deployments.
type Client struct {
	settings
	repo     *repo.Repository
	sessions Sessions
}

// New creates a Client that caches through r and authenticates through
// sessions.
func New(r *repo.Repository, sessions Sessions, opts ...Option) *Client {
	return &Client{
		settings: newSettings(opts),
		repo:     r,
		sessions: sessions,
	}
}

// Get issues an authenticated GET of path under the deployment API.
func (c *Client) Get(ctx context.Context, d *schema.Deployment, path string, params url.Values) ([]byte, error) {
	target := apiURL(d, path, params)
	return c.authorized(ctx, d, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, d *schema.Deployment, path string, body any) ([]byte, error) {
	return c.sendJSON(ctx, d, http.MethodPost, path, body)
}

// Put issues an authenticated PUT with a JSON body.
func (c *Client) Put(ctx context.Context, d *schema.Deployment, path string, body any) ([]byte, error) {
	return c.sendJSON(ctx, d, http.MethodPut, path, body)
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, d *schema.Deployment, path string) error {
	target := apiURL(d, path, nil)
	_, err := c.authorized(ctx, d, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	})
	return err
}

func (c *Client) sendJSON(ctx context.Context, d *schema.Deployment, method, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	target := apiURL(d, path, nil)
	return c.authorized(ctx, d, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// authorized runs the request built by build with the deployment's token.
// A missing login triggers a login first. A 401 triggers one refresh, on
// failure a full login, and then a single retry.
func (c *Client) authorized(ctx context.Context, d *schema.Deployment, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	login, err := c.sessions.GetLogin(ctx, d)
	if errors.Is(err, errs.ErrNotFound) {
		login, err = c.sessions.Login(ctx, d)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with %s: %w", d.API, err)
	}

	body, err := c.do(ctx, build, login.AccessToken)
	if !isStatus(err, http.StatusUnauthorized) {
		return body, err
	}

	c.logger.Debug("token rejected, refreshing", "deployment", d.ID)
	login, rerr := c.sessions.Refresh(ctx, d, login.RefreshToken)
	if rerr != nil {
		c.logger.Debug("refresh failed, logging in again", "deployment", d.ID, "error", rerr)
		login, rerr = c.sessions.Login(ctx, d)
		if rerr != nil {
			return nil, fmt.Errorf("failed to re-authenticate with %s: %w", d.API, rerr)
		}
	}
	return c.do(ctx, build, login.AccessToken)
}

// do sends one request and classifies the outcome.
func (c *Client) do(ctx context.Context, build func(context.Context) (*http.Request, error), token string) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(c.httpClient, c.logger, req)
}

func send(hc *http.Client, logger *slog.Logger, req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Redacted(), errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s %s: %w: %w", req.Method, req.URL.Redacted(), errs.ErrTransport, err)
	}

	logger.Debug("request", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, statusError(req, resp.StatusCode, body)
}

func statusError(req *http.Request, status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &errs.StatusError{
		Method: req.Method,
		URL:    req.URL.Redacted(),
		Status: status,
		Body:   text,
		Kind:   statusKind(status),
	}
}

// statusKind maps an HTTP status onto the failure taxonomy.
func statusKind(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.ErrAuth
	case status == http.StatusNotFound:
		return errs.ErrNotFound
	case status >= 500:
		return errs.ErrServer
	default:
		return errs.ErrValidation
	}
}

func isStatus(err error, status int) bool {
	var se *errs.StatusError
	return errors.As(err, &se) && se.Status == status
}

// apiURL joins the deployment API base with an /api/v3 path.
func apiURL(d *schema.Deployment, path string, params url.Values) string {
	u := strings.TrimRight(d.API, "/") + apiPrefix + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}
