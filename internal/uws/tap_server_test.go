package uws_test

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

const (
	testUser     = "astro"
	testPassword = "secret"
	testCookie   = "JSESSIONID"
)

// fakeTAP is an in-memory UWS endpoint mounted at /async.
type fakeTAP struct {
	mu sync.Mutex

	jobID        string
	phases       []string // returned by successive status fetches; the last repeats
	errorMessage string
	result       []byte
	omitJobID    bool

	// The server drops the session and answers with the login page.
	loginOnStatus bool
	loginOnResult bool

	statusFetches int
	submits       []url.Values
	submitPaths   []string
	phaseRequests []string
	deleted       bool
	requestIDs    []string
	cookiesSeen   int
}

func newFakeTAP(t *testing.T, f *fakeTAP) *httptest.Server {
	t.Helper()
	if f.jobID == "" {
		f.jobID = "1234567"
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeTAP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requestIDs = append(f.requestIDs, r.Header.Get("X-Request-ID"))
	user, pass, ok := r.BasicAuth()
	if !ok || user != testUser || pass != testPassword {
		writeLoginPage(w)
		return
	}
	if _, err := r.Cookie(testCookie); err == nil {
		f.cookiesSeen++
	}
	_ = r.ParseForm()

	jobPath := "/async/" + f.jobID
	switch {
	case r.URL.Path == "/async" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: testCookie, Value: "abc123", Path: "/"})
		_, _ = io.WriteString(w, "<html>Millennium TAP async endpoint</html>")
	case r.URL.Path == "/async" && r.Method == http.MethodPost:
		f.submits = append(f.submits, r.PostForm)
		f.submitPaths = append(f.submitPaths, r.URL.Path)
		f.writeJob(w, "PENDING")
	case r.URL.Path == jobPath && r.Method == http.MethodPost:
		if r.PostForm.Get("ACTION") == "DELETE" {
			f.deleted = true
			_, _ = io.WriteString(w, "<html>deleted</html>")
			return
		}
		f.submits = append(f.submits, r.PostForm)
		f.submitPaths = append(f.submitPaths, r.URL.Path)
		f.writeJob(w, "PENDING")
	case r.URL.Path == jobPath+"/phase" && r.Method == http.MethodPost:
		f.phaseRequests = append(f.phaseRequests, r.PostForm.Get("PHASE"))
		f.writeJob(w, "EXECUTING")
	case r.URL.Path == jobPath && r.Method == http.MethodGet && f.loginOnStatus:
		f.statusFetches++
		writeLoginPage(w)
	case r.URL.Path == jobPath && r.Method == http.MethodGet:
		phase := "PENDING"
		if len(f.phases) > 0 {
			i := f.statusFetches
			if i >= len(f.phases) {
				i = len(f.phases) - 1
			}
			phase = f.phases[i]
		}
		f.statusFetches++
		f.writeJob(w, phase)
	case r.URL.Path == jobPath+"/results/result" && r.Method == http.MethodGet && f.loginOnResult:
		writeLoginPage(w)
	case r.URL.Path == jobPath+"/results/result" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(f.result)
	default:
		http.NotFound(w, r)
	}
}

func writeLoginPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = io.WriteString(w, "<html><title>Login at Millennium TAP</title></html>")
}

func (f *fakeTAP) writeJob(w http.ResponseWriter, phase string) {
	w.Header().Set("Content-Type", "text/xml")
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0" xmlns:xlink="http://www.w3.org/1999/xlink">` + "\n")
	if !f.omitJobID {
		fmt.Fprintf(&b, "  <uws:jobId>%s</uws:jobId>\n", f.jobID)
	}
	fmt.Fprintf(&b, "  <uws:phase>%s</uws:phase>\n", phase)
	if phase == "ERROR" {
		fmt.Fprintf(&b, "  <uws:errorSummary type=\"fatal\"><uws:message>%s</uws:message></uws:errorSummary>\n", html.EscapeString(f.errorMessage))
	}
	b.WriteString("</uws:job>\n")
	_, _ = io.WriteString(w, b.String())
}

// tapStats is a copy of what the fake server observed.
type tapStats struct {
	statusFetches int
	submits       []url.Values
	submitPaths   []string
	phaseRequests []string
	deleted       bool
	requestIDs    []string
	cookiesSeen   int
}

func (f *fakeTAP) snapshot() tapStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return tapStats{
		statusFetches: f.statusFetches,
		submits:       append([]url.Values(nil), f.submits...),
		submitPaths:   append([]string(nil), f.submitPaths...),
		phaseRequests: append([]string(nil), f.phaseRequests...),
		deleted:       f.deleted,
		requestIDs:    append([]string(nil), f.requestIDs...),
		cookiesSeen:   f.cookiesSeen,
	}
}
