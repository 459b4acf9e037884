// Package uws implements a client for the asynchronous (UWS) query
// interface of the Millennium Simulation TAP service.
//
// A Client drives one job through its lifecycle: Submit, Start, Poll and
// FetchResults. It is not safe for concurrent use.
package uws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"millq/internal/domain"
)

// DefaultBaseURL is the Millennium TAP asynchronous endpoint.
const DefaultBaseURL = "http://galformod.mpa-garching.mpg.de/millenniumtap/async"

// HeaderRequestID carries a per-request correlation ID.
const HeaderRequestID = "X-Request-ID"

// maxDocumentSize bounds how much of a status or submit response is read.
const maxDocumentSize = 8 << 20

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL string
	Lang    string
	Format  string
	MaxRec  int

	// JobID re-attaches the client to a job submitted earlier.
	JobID string

	// Session is reused when set; otherwise Authenticate must be called
	// before any job operation.
	Session *Session

	HTTPClient    *http.Client
	Logger        *slog.Logger
	Backoff       domain.Backoff
	Sleep         func(ctx context.Context, d time.Duration) error
	RateLimit     float64 // requests per second, 0 disables
	LoginDetector LoginDetector
}

// Client talks to a single UWS job endpoint.
type Client struct {
	baseURL     string
	request     domain.QueryRequest
	session     *Session
	job         *domain.Job
	httpClient  *http.Client
	logger      *slog.Logger
	backoff     domain.Backoff
	sleep       func(ctx context.Context, d time.Duration) error
	limiter     *rate.Limiter
	detectLogin LoginDetector
	closed      bool
}

// New creates a Client. It performs no network I/O.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", base)
	}
	if opts.MaxRec < 0 {
		return nil, fmt.Errorf("invalid maxrec %d: must not be negative", opts.MaxRec)
	}

	c := &Client{
		baseURL: base,
		request: domain.QueryRequest{
			Lang:   opts.Lang,
			Format: opts.Format,
			MaxRec: opts.MaxRec,
		},
		session:     opts.Session,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		backoff:     opts.Backoff,
		sleep:       opts.Sleep,
		detectLogin: opts.LoginDetector,
	}
	if c.request.Lang == "" {
		c.request.Lang = domain.DefaultLang
	}
	if c.request.Format == "" {
		c.request.Format = domain.DefaultFormat
	}
	if c.request.MaxRec == 0 {
		c.request.MaxRec = domain.DefaultMaxRec
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.backoff.Factor <= 0 {
		c.backoff = domain.DefaultBackoff()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.detectLogin == nil {
		c.detectLogin = DetectLoginPage
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if opts.JobID != "" {
		c.job = &domain.Job{ID: opts.JobID, URL: c.jobURL(opts.JobID)}
	}
	return c, nil
}

// BaseURL returns the service endpoint the client submits to.
func (c *Client) BaseURL() string { return c.baseURL }

// Request returns the submission parameters. Query is empty until the
// first successful Submit.
func (c *Client) Request() domain.QueryRequest { return c.request }

// Session returns the session in use, or nil before Authenticate.
func (c *Client) Session() *Session { return c.session }

// Job returns the known job, or nil before Submit.
func (c *Client) Job() *domain.Job {
	if c.job == nil {
		return nil
	}
	j := *c.job
	return &j
}

// Close releases idle connections. Further calls fail with a UsageError.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) jobURL(id string) string {
	return c.baseURL + "/" + url.PathEscape(id)
}

// submissionParams returns the form values sent with every job POST.
func (c *Client) submissionParams() url.Values {
	v := url.Values{}
	v.Set("LANG", c.request.Lang)
	v.Set("FORMAT", c.request.Format)
	v.Set("MAXREC", strconv.Itoa(c.request.MaxRec))
	v.Set("REQUEST", "doQuery")
	v.Set("VERSION", "1.0")
	return v
}

func (c *Client) ready(op string) error {
	if c.closed {
		return domain.ErrUsage("%s: client is closed", op)
	}
	if c.session == nil {
		return domain.ErrUsage("%s: not authenticated, call Authenticate first", op)
	}
	return nil
}

func (c *Client) requireJob(op string) (*domain.Job, error) {
	if err := c.ready(op); err != nil {
		return nil, err
	}
	if c.job == nil {
		return nil, domain.ErrUsage("%s: no job, call Submit first", op)
	}
	return c.job, nil
}

// do sends a request carrying the session's credentials and cookies.
// A non-nil form is sent url-encoded as the request body.
func (c *Client) do(ctx context.Context, s *Session, method, rawURL string, form url.Values) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	requestID := domain.NewID()
	req.Header.Set(HeaderRequestID, requestID)
	req.SetBasicAuth(s.Username, s.Password)

	s.ensureJar()
	hc := *c.httpClient
	hc.Jar = s.jar

	c.logger.Debug("uws request", "method", method, "url", rawURL, "request_id", requestID)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}

// fetchDocument performs a request and returns the checked response body.
func (c *Client) fetchDocument(ctx context.Context, method, rawURL string, form url.Values) ([]byte, error) {
	resp, err := c.do(ctx, c.session, method, rawURL, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", rawURL, err)
	}
	if err := c.checkResponse(method, rawURL, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkResponse runs the login check before any other inspection of the
// response, then rejects unexpected statuses.
func (c *Client) checkResponse(method, rawURL string, status int, body []byte) error {
	if err := checkLogin(c.detectLogin, status, body); err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &domain.HTTPError{
			Method:     method,
			URL:        rawURL,
			StatusCode: status,
			Body:       truncate(string(body), 512),
		}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
