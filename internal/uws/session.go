package uws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"millq/internal/domain"
)

// LoginSentinel appears in the body of the server's login page. The
// service answers bad credentials with that page and a success status,
// so the body is the only signal available.
const LoginSentinel = "Login at Millennium TAP"

// LoginDetector reports whether a response is the server's rejection of
// the supplied credentials.
type LoginDetector func(status int, body []byte) bool

// DetectLoginPage is the default LoginDetector: an explicit 401 or the
// login page sentinel anywhere in the body.
func DetectLoginPage(status int, body []byte) bool {
	return status == http.StatusUnauthorized || bytes.Contains(body, []byte(LoginSentinel))
}

func checkLogin(detect LoginDetector, status int, body []byte) error {
	if detect(status, body) {
		return domain.ErrAuthentication("login credentials not valid for Millennium TAP")
	}
	return nil
}

// Session holds the basic-auth credentials and the cookie set issued by
// the server. It is owned by a single Client.
type Session struct {
	Username string
	Password string

	jar *cookiejar.Jar
}

// NewSession creates a session with an empty cookie set.
func NewSession(username, password string) *Session {
	s := &Session{Username: username, Password: password}
	s.ensureJar()
	return s
}

func (s *Session) ensureJar() {
	if s.jar == nil {
		// cookiejar.New only fails on a bad PublicSuffixList option.
		s.jar, _ = cookiejar.New(nil)
	}
}

// Cookies returns the server-issued cookies applicable to rawURL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	if s.jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

// Authenticate probes the service with the given credentials and captures
// the cookies it issues. On success the client adopts the new session.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	if c.closed {
		return nil, domain.ErrUsage("authenticate: client is closed")
	}

	s := NewSession(username, password)
	resp, err := c.do(ctx, s, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("authenticate: read response: %w", err)
	}
	if err := c.checkResponse(http.MethodGet, c.baseURL, resp.StatusCode, body); err != nil {
		return nil, err
	}

	c.session = s
	c.logger.Info("authenticated", "username", username, "cookies", len(s.Cookies(c.baseURL)))
	return s, nil
}
