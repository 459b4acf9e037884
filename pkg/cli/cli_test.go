package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"millq/internal/domain"
)

func TestQuery_SavesResultAndRecordsJob(t *testing.T) {
	tap := &tapServer{
		phases: []string{"EXECUTING", "EXECUTING", "COMPLETED"},
		result: []byte("haloId,np\n1,20\n2,31\n"),
	}
	srv := newTAPServer(t, tap)
	dir := setupCLIEnv(t, srv)
	dest := filepath.Join(dir, "halos.csv")

	out, err := runCLI(t, "query", "select top 2 * from halos", "--out", dest, "--maxrec", "2", "-o", "json")
	require.NoError(t, err)

	var res jobResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "42", res.JobID)
	assert.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Equal(t, dest, res.Location)
	require.NotNil(t, res.Bytes)
	assert.Equal(t, int64(len(tap.result)), *res.Bytes)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, tap.result, data)

	fetches, submits, phaseRequests, _ := tap.stats()
	// three polls plus the phase check before the download
	assert.Equal(t, 4, fetches)
	require.Len(t, submits, 1)
	assert.Equal(t, "select top 2 * from halos", submits[0].Get("QUERY"))
	assert.Equal(t, "2", submits[0].Get("MAXREC"))
	assert.Equal(t, "csv", submits[0].Get("FORMAT"))
	assert.Equal(t, []string{"RUN"}, phaseRequests)

	out, err = runCLI(t, "jobs", "list", "-o", "json")
	require.NoError(t, err)
	var jobs []domain.JobRecord
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "42", jobs[0].ID)
	assert.Equal(t, domain.PhaseCompleted, jobs[0].Phase)
	assert.Equal(t, "select top 2 * from halos", jobs[0].Query)
	require.NotNil(t, jobs[0].ResultPath)
	assert.Equal(t, dest, *jobs[0].ResultPath)
}

func TestQuery_StreamsToStdout(t *testing.T) {
	tap := &tapServer{phases: []string{"COMPLETED"}, result: []byte("a,b\n1,2\n")}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	out, err := runCLI(t, "query", "select 1")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", out)
}

func TestQuery_JobErrorIsReported(t *testing.T) {
	tap := &tapServer{phases: []string{"EXECUTING", "ERROR"}, errorMessage: "syntax error"}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "query", "selec 1")
	require.Error(t, err)
	var failedErr *domain.JobFailedError
	require.ErrorAs(t, err, &failedErr)
	assert.Equal(t, "syntax error", failedErr.Message)

	out, err := runCLI(t, "jobs", "show", "42", "-o", "json")
	require.NoError(t, err)
	var job domain.JobRecord
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, domain.PhaseError, job.Phase)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "syntax error", *job.ErrorMessage)
}

func TestQuery_EmptyQuery(t *testing.T) {
	tap := &tapServer{phases: []string{"COMPLETED"}}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "query", "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is empty")
	_, submits, _, _ := tap.stats()
	assert.Empty(t, submits)
}

func TestLogin_BadPassword(t *testing.T) {
	srv := newTAPServer(t, &tapServer{phases: []string{"PENDING"}})
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "login", "--password", "wrong")
	require.Error(t, err)
	var authErr *domain.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestLogin_SaveStoresAccountWithoutPassword(t *testing.T) {
	srv := newTAPServer(t, &tapServer{phases: []string{"PENDING"}})
	setupCLIEnv(t, srv)

	out, err := runCLI(t, "login", "--save")
	require.NoError(t, err)
	assert.Contains(t, out, "as astro")

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	p := cfg.ActiveProfile("")
	assert.Equal(t, srv.URL+"/async", p.URL)
	assert.Equal(t, tapUser, p.Username)
	assert.Empty(t, p.Password)
}

func TestSubmitStartStatus(t *testing.T) {
	// one status fetch each for submit, start and status
	tap := &tapServer{phases: []string{"PENDING", "QUEUED", "EXECUTING"}}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	out, err := runCLI(t, "submit", "select 1", "-o", "json")
	require.NoError(t, err)
	var res jobResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "42", res.JobID)
	assert.Equal(t, domain.PhasePending, res.Phase)

	out, err = runCLI(t, "start", "42", "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, domain.PhaseQueued, res.Phase)

	out, err = runCLI(t, "status", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "PHASE")
	assert.Contains(t, out, "EXECUTING")

	fetches, _, phaseRequests, _ := tap.stats()
	assert.Equal(t, []string{"RUN"}, phaseRequests)
	assert.Equal(t, 3, fetches)
}

func TestSubmit_StartReportsServerPhase(t *testing.T) {
	tap := &tapServer{phases: []string{"EXECUTING"}}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	out, err := runCLI(t, "submit", "select 1", "--start", "-o", "json")
	require.NoError(t, err)
	var res jobResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, domain.PhaseExecuting, res.Phase)

	out, err = runCLI(t, "jobs", "show", "42", "-o", "json")
	require.NoError(t, err)
	var rec domain.JobRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, domain.PhaseExecuting, rec.Phase)
	assert.Equal(t, "select 1", rec.Query)
}

func TestQuery_UnusableLedgerIsNotFatal(t *testing.T) {
	tap := &tapServer{
		phases: []string{"COMPLETED"},
		result: []byte("id\n1\n"),
	}
	srv := newTAPServer(t, tap)
	dir := setupCLIEnv(t, srv)
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))
	t.Setenv("MILLQ_JOBS_DB", filepath.Join(blocker, "jobs.sqlite"))
	dest := filepath.Join(dir, "out.csv")

	_, err := runCLI(t, "query", "select 1", "--out", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, tap.result, data)
	_, submits, _, _ := tap.stats()
	assert.Len(t, submits, 1)

	_, err = runCLI(t, "jobs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open job ledger")
}

func TestResolve_LoadsDotEnv(t *testing.T) {
	srv := newTAPServer(t, &tapServer{phases: []string{"PENDING"}})
	dir := setupCLIEnv(t, srv)
	t.Chdir(dir)
	t.Setenv("MILLQ_FORMAT", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MILLQ_FORMAT=votable\nMILLQ_USERNAME=ignored\n"), 0o600))

	opts := &rootOptions{}
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, opts.resolve(cmd))
	assert.Equal(t, "votable", opts.cfg.Format)
	assert.Equal(t, tapUser, opts.cfg.Username)
}

func TestStatus_ShowsErrorSummary(t *testing.T) {
	tap := &tapServer{phases: []string{"ERROR"}, errorMessage: "table halos does not exist"}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	out, err := runCLI(t, "status", "42", "-o", "json")
	require.NoError(t, err)
	var res jobResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, domain.PhaseError, res.Phase)
	assert.Equal(t, "table halos does not exist", res.Error)
}

func TestWait_GivesUpAfterMaxAttempts(t *testing.T) {
	tap := &tapServer{phases: []string{"EXECUTING"}}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "wait", "42", "--max-attempts", "2")
	require.Error(t, err)
	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 2, timeoutErr.Attempts)

	fetches, _, _, _ := tap.stats()
	assert.Equal(t, 2, fetches)
}

func TestFetch_RequiresCompletedJob(t *testing.T) {
	tap := &tapServer{phases: []string{"QUEUED"}}
	srv := newTAPServer(t, tap)
	dir := setupCLIEnv(t, srv)
	dest := filepath.Join(dir, "out.csv")

	_, err := runCLI(t, "fetch", "42", dest)
	require.Error(t, err)
	var usageErr *domain.UsageError
	assert.ErrorAs(t, err, &usageErr)
	assert.NoFileExists(t, dest)
}

func TestAbortAndDelete(t *testing.T) {
	tap := &tapServer{phases: []string{"EXECUTING"}}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "submit", "select 1")
	require.NoError(t, err)

	out, err := runCLI(t, "abort", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "ABORTED")

	out, err = runCLI(t, "delete", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted job 42")

	_, _, phaseRequests, deleted := tap.stats()
	assert.Equal(t, []string{"ABORT"}, phaseRequests)
	assert.True(t, deleted)

	_, err = runCLI(t, "jobs", "show", "42")
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestJobsForget(t *testing.T) {
	tap := &tapServer{phases: []string{"PENDING"}}
	srv := newTAPServer(t, tap)
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "jobs", "forget", "42")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = runCLI(t, "submit", "select 1")
	require.NoError(t, err)

	out, err := runCLI(t, "jobs", "forget", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "Forgot job 42")

	out, err = runCLI(t, "jobs", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "42")
}

func TestResolve_Precedence(t *testing.T) {
	srv := newTAPServer(t, &tapServer{phases: []string{"PENDING"}})
	setupCLIEnv(t, srv)
	t.Setenv("MILLQ_URL", "")
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {URL: "https://profile.example/tap/async", Format: "votable", Output: "json"},
		},
	}))

	newCmd := func(args ...string) (*cobra.Command, *rootOptions) {
		opts := &rootOptions{}
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().StringVar(&opts.url, "url", "", "")
		cmd.Flags().StringVar(&opts.output, "output", "table", "")
		require.NoError(t, cmd.Flags().Parse(args))
		return cmd, opts
	}

	cmd, opts := newCmd()
	require.NoError(t, opts.resolve(cmd))
	assert.Equal(t, "https://profile.example/tap/async", opts.cfg.BaseURL)
	assert.Equal(t, "votable", opts.cfg.Format)
	assert.Equal(t, "json", opts.output)

	t.Setenv("MILLQ_URL", "https://env.example/async")
	cmd, opts = newCmd()
	require.NoError(t, opts.resolve(cmd))
	assert.Equal(t, "https://env.example/async", opts.cfg.BaseURL)

	cmd, opts = newCmd("--url", "https://flag.example/async", "--output", "table")
	require.NoError(t, opts.resolve(cmd))
	assert.Equal(t, "https://flag.example/async", opts.cfg.BaseURL)
	assert.Equal(t, "table", opts.output)
}

func TestResolve_UnknownProfile(t *testing.T) {
	srv := newTAPServer(t, &tapServer{phases: []string{"PENDING"}})
	setupCLIEnv(t, srv)

	_, err := runCLI(t, "--profile", "missing", "status", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "missing" not found`)
}

func TestErrorObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want map[string]interface{}
	}{
		{
			name: "job failed",
			err:  &domain.JobFailedError{JobID: "7", Message: "syntax error"},
			want: map[string]interface{}{"kind": "job_failed", "job_id": "7", "message": "syntax error"},
		},
		{
			name: "http",
			err:  &domain.HTTPError{Method: "GET", URL: "http://x", StatusCode: 503},
			want: map[string]interface{}{"kind": "http", "http_status": 503},
		},
		{
			name: "timeout",
			err:  &domain.TimeoutError{JobID: "7", Attempts: 3, Phase: domain.PhaseExecuting},
			want: map[string]interface{}{"kind": "timeout", "job_id": "7", "attempts": 3, "phase": domain.PhaseExecuting},
		},
		{
			name: "authentication",
			err:  domain.ErrAuthentication("login page returned"),
			want: map[string]interface{}{"kind": "authentication"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := errorObject(tt.err)
			assert.Equal(t, tt.err.Error(), obj["error"])
			for k, v := range tt.want {
				assert.Equal(t, v, obj[k], k)
			}
		})
	}
}

func TestMaxAttemptsHelpNamesConfiguredDefault(t *testing.T) {
	for _, name := range []string{"query", "wait"} {
		cmd, _, err := newRootCmd().Find([]string{name})
		require.NoError(t, err)
		flag := cmd.Flags().Lookup("max-attempts")
		require.NotNil(t, flag, name)
		assert.Contains(t, flag.Usage, "MILLQ_MAX_ATTEMPTS or 100", name)
	}
}
