package cli

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// captureStdout redirects os.Stdout to a pipe and returns a function
// that restores stdout and returns the captured output.
// Uses a goroutine to read concurrently, avoiding pipe buffer deadlocks.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	// Read concurrently to avoid pipe buffer deadlock on large outputs
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	return func() string {
		_ = w.Close()
		<-done
		os.Stdout = old
		return buf.String()
	}
}

// tapServer is a single-job UWS endpoint mounted at /async.
type tapServer struct {
	mu sync.Mutex

	jobID        string
	phases       []string // successive status fetches; the last repeats
	errorMessage string
	result       []byte

	statusFetches int
	submits       []url.Values
	phaseRequests []string
	deleted       bool
}

const (
	tapUser     = "astro"
	tapPassword = "secret"
)

func newTAPServer(t *testing.T, s *tapServer) *httptest.Server {
	t.Helper()
	if s.jobID == "" {
		s.jobID = "42"
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return srv
}

func (s *tapServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != tapUser || pass != tapPassword {
		_, _ = io.WriteString(w, "<html><h1>Login at Millennium TAP</h1></html>")
		return
	}
	_ = r.ParseForm()

	jobPath := "/async/" + s.jobID
	switch {
	case r.URL.Path == "/async" && r.Method == http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "cli", Path: "/"})
		_, _ = io.WriteString(w, "<html>ok</html>")
	case r.URL.Path == "/async" && r.Method == http.MethodPost:
		s.submits = append(s.submits, r.PostForm)
		s.writeJob(w, "PENDING")
	case r.URL.Path == jobPath && r.Method == http.MethodPost:
		s.deleted = r.PostForm.Get("ACTION") == "DELETE"
		_, _ = io.WriteString(w, "<html>ok</html>")
	case r.URL.Path == jobPath+"/phase" && r.Method == http.MethodPost:
		s.phaseRequests = append(s.phaseRequests, r.PostForm.Get("PHASE"))
		if r.PostForm.Get("PHASE") == "ABORT" {
			s.phases = []string{"ABORTED"}
			s.statusFetches = 0
		}
		s.writeJob(w, "QUEUED")
	case r.URL.Path == jobPath && r.Method == http.MethodGet:
		i := s.statusFetches
		if i >= len(s.phases) {
			i = len(s.phases) - 1
		}
		s.statusFetches++
		s.writeJob(w, s.phases[i])
	case r.URL.Path == jobPath+"/results/result" && r.Method == http.MethodGet:
		_, _ = w.Write(s.result)
	default:
		http.NotFound(w, r)
	}
}

func (s *tapServer) writeJob(w http.ResponseWriter, phase string) {
	w.Header().Set("Content-Type", "text/xml")
	summary := ""
	if phase == "ERROR" {
		summary = fmt.Sprintf("<uws:errorSummary><uws:message>%s</uws:message></uws:errorSummary>", s.errorMessage)
	}
	_, _ = fmt.Fprintf(w, `<?xml version="1.0"?>
<uws:job xmlns:uws="http://www.ivoa.net/xml/UWS/v1.0">
  <uws:jobId>%s</uws:jobId>
  <uws:phase>%s</uws:phase>
  %s
</uws:job>`, s.jobID, phase, summary)
}

func (s *tapServer) stats() (fetches int, submits []url.Values, phaseRequests []string, deleted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusFetches, append([]url.Values(nil), s.submits...), append([]string(nil), s.phaseRequests...), s.deleted
}

// setupCLIEnv isolates HOME and points the CLI at srv with fast polling.
// It returns the temp directory.
func setupCLIEnv(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, k := range []string{
		"MILLQ_LANG", "MILLQ_FORMAT", "MILLQ_MAXREC", "MILLQ_MAX_ATTEMPTS",
		"MILLQ_POLL_MAX", "MILLQ_RATE_LIMIT_RPS", "MILLQ_HTTP_TIMEOUT", "MILLQ_OUTPUT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("MILLQ_URL", srv.URL+"/async")
	t.Setenv("MILLQ_USERNAME", tapUser)
	t.Setenv("MILLQ_PASSWORD", tapPassword)
	t.Setenv("MILLQ_POLL_FACTOR", "1ms")
	t.Setenv("MILLQ_JOBS_DB", filepath.Join(dir, "jobs.sqlite"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

// runCLI executes a fresh root command and returns what it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	restore := captureStdout(t)
	err := cmd.Execute()
	return restore(), err
}
