package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"millq/internal/config"
	"millq/internal/db"
	"millq/internal/db/repository"
	"millq/internal/domain"
	"millq/internal/uws"
)

// rootOptions holds the persistent flags and the configuration resolved
// from them before any subcommand runs.
type rootOptions struct {
	url      string
	username string
	password string
	output   string
	profile  string
	logLevel string
	jobsDB   string

	cfg    *config.Config
	logger *slog.Logger
}

// resolve applies flag > env > profile > default precedence and builds
// the logger.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	dotEnvErr := config.LoadDotEnv(".env")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	userCfg, err := LoadUserConfig()
	if err != nil {
		// Config file is optional
		userCfg = &UserConfig{
			CurrentProfile: "default",
			Profiles:       map[string]Profile{},
		}
	}
	if o.profile != "" {
		if _, ok := userCfg.Profiles[o.profile]; !ok {
			return fmt.Errorf("profile %q not found", o.profile)
		}
	}
	p := userCfg.ActiveProfile(o.profile)

	output := "table"
	pick(cmd, "url", o.url, "MILLQ_URL", p.URL, &cfg.BaseURL)
	pick(cmd, "username", o.username, "MILLQ_USERNAME", p.Username, &cfg.Username)
	pick(cmd, "password", o.password, "MILLQ_PASSWORD", p.Password, &cfg.Password)
	pick(cmd, "", "", "MILLQ_FORMAT", p.Format, &cfg.Format)
	pick(cmd, "output", o.output, "MILLQ_OUTPUT", p.Output, &output)
	pick(cmd, "log-level", o.logLevel, "LOG_LEVEL", "", &cfg.LogLevel)
	pick(cmd, "jobs-db", o.jobsDB, "MILLQ_JOBS_DB", "", &cfg.JobsDBPath)

	if err := validateOutputFormat(output); err != nil {
		return err
	}
	if err := validateServiceURL(cfg.BaseURL); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.output = output
	o.cfg = cfg
	o.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	if dotEnvErr != nil {
		o.logger.Warn("failed to load .env", "error", dotEnvErr)
	}
	for _, w := range cfg.Warnings {
		o.logger.Warn(w)
	}
	return nil
}

// pick stores the winning value for one setting into dst. An empty flag
// name means the setting has no flag.
func pick(cmd *cobra.Command, flag, flagVal, env, profileVal string, dst *string) {
	switch {
	case flag != "" && cmd.Flags().Changed(flag):
		*dst = flagVal
	case os.Getenv(env) != "":
		*dst = os.Getenv(env)
	case profileVal != "":
		*dst = profileVal
	}
}

// connect builds a client, optionally re-attached to jobID, and
// authenticates it.
func (o *rootOptions) connect(ctx context.Context, jobID string) (*uws.Client, error) {
	opts := o.cfg.ClientOptions(o.logger)
	opts.JobID = jobID
	client, err := uws.New(opts)
	if err != nil {
		return nil, err
	}

	password, err := o.resolvePassword()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Authenticate(ctx, o.cfg.Username, password); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// resolvePassword prompts on the terminal when a username is configured
// without a password.
func (o *rootOptions) resolvePassword() (string, error) {
	if o.cfg.Password != "" || o.cfg.Username == "" {
		return o.cfg.Password, nil
	}
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	if !term.IsTerminal(fd) {
		return "", domain.ErrUsage("password required for %q: use --password or MILLQ_PASSWORD", o.cfg.Username)
	}
	_, _ = fmt.Fprintf(os.Stderr, "Password for %s: ", o.cfg.Username)
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	o.cfg.Password = string(secret)
	return o.cfg.Password, nil
}

// ledger opens the local job ledger for commands that only mirror jobs
// into it. It returns a nil repo when the ledger is disabled or cannot be
// opened; the latter is logged.
func (o *rootOptions) ledger() (*repository.JobRepo, func()) {
	if o.cfg.JobsDBPath == "" {
		return nil, func() {}
	}
	repo, closeLedger, err := o.openJobsDB()
	if err != nil {
		o.logger.Warn("job ledger unavailable", "path", o.cfg.JobsDBPath, "error", err)
		return nil, func() {}
	}
	return repo, closeLedger
}

func (o *rootOptions) openJobsDB() (*repository.JobRepo, func(), error) {
	conn, err := db.Open(o.cfg.JobsDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open job ledger: %w", err)
	}
	return repository.NewJobRepo(conn), func() { closeDB(o.logger, conn) }, nil
}

func closeDB(logger *slog.Logger, conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logger.Warn("close job ledger", "error", err)
	}
}

// track mirrors the client's job into the ledger. Ledger failures are
// logged and never fail the command.
type track struct {
	repo    *repository.JobRepo
	logger  *slog.Logger
	baseURL string
}

func (o *rootOptions) tracker(repo *repository.JobRepo, client *uws.Client) *track {
	return &track{repo: repo, logger: o.logger, baseURL: client.BaseURL()}
}

func (t *track) recordSubmit(ctx context.Context, job *domain.Job, req domain.QueryRequest) {
	if t.repo == nil {
		return
	}
	_, err := t.repo.Record(ctx, &domain.JobRecord{
		ID:      job.ID,
		JobURL:  job.URL,
		BaseURL: t.baseURL,
		Query:   req.Query,
		Lang:    req.Lang,
		Format:  req.Format,
		MaxRec:  req.MaxRec,
		Phase:   domain.PhasePending,
	})
	if err != nil {
		t.logger.Warn("record job", "job_id", job.ID, "error", err)
	}
}

// recordPhase stores the outcome of a status check or poll along with the
// server's error summary, if any.
func (t *track) recordPhase(ctx context.Context, jobID string, phase domain.Phase, msg *string) {
	if t.repo == nil || phase == "" {
		return
	}
	if err := t.repo.UpdatePhase(ctx, t.baseURL, jobID, phase, msg); err != nil {
		t.logger.Debug("update job phase", "job_id", jobID, "error", err)
	}
}

func (t *track) recordResult(ctx context.Context, jobID, location string) {
	if t.repo == nil {
		return
	}
	if err := t.repo.SetResultPath(ctx, t.baseURL, jobID, location); err != nil {
		t.logger.Debug("set result path", "job_id", jobID, "error", err)
	}
}

func (t *track) forget(ctx context.Context, jobID string) {
	if t.repo == nil {
		return
	}
	var notFound *domain.NotFoundError
	if err := t.repo.Delete(ctx, t.baseURL, jobID); err != nil && !errors.As(err, &notFound) {
		t.logger.Warn("forget job", "job_id", jobID, "error", err)
	}
}
