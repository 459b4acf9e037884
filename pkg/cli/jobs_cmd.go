package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"millq/internal/db/repository"
	"millq/internal/domain"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the local ledger of submitted jobs",
	}

	cmd.AddCommand(newJobsListCmd(opts))
	cmd.AddCommand(newJobsShowCmd(opts))
	cmd.AddCommand(newJobsForgetCmd(opts))
	return cmd
}

// openLedger opens the ledger for the jobs commands, which need one.
func (o *rootOptions) openLedger() (*repository.JobRepo, func(), string, error) {
	if o.cfg.JobsDBPath == "" {
		return nil, nil, "", domain.ErrUsage("job ledger is disabled: set MILLQ_JOBS_DB or --jobs-db")
	}
	repo, closeLedger, err := o.openJobsDB()
	if err != nil {
		return nil, nil, "", err
	}
	return repo, closeLedger, strings.TrimRight(o.cfg.BaseURL, "/"), nil
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs submitted to the current service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeLedger, baseURL, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			jobs, err := repo.List(cmd.Context(), baseURL, limit)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID,
					string(j.Phase),
					j.CreatedAt.Local().Format(time.DateTime),
					deref(j.ResultPath),
					abbreviate(j.Query, 48),
				})
			}
			return printTable(os.Stdout, []string{"job", "phase", "created", "result", "query"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list (0 = all)")
	return cmd
}

func newJobsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show what the ledger knows about a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeLedger, baseURL, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			job, err := repo.Get(cmd.Context(), baseURL, args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, job)
			}
			rows := [][]string{
				{"id", job.ID},
				{"url", job.JobURL},
				{"phase", string(job.Phase)},
				{"lang", job.Lang},
				{"format", job.Format},
				{"maxrec", strconv.Itoa(job.MaxRec)},
				{"error", deref(job.ErrorMessage)},
				{"result", deref(job.ResultPath)},
				{"created", job.CreatedAt.Local().Format(time.DateTime)},
				{"updated", job.UpdatedAt.Local().Format(time.DateTime)},
				{"query", job.Query},
			}
			return printTable(os.Stdout, []string{"field", "value"}, rows)
		},
	}
}

func newJobsForgetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <job-id>",
		Short: "Remove a job from the ledger without touching the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeLedger, baseURL, err := opts.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			if err := repo.Delete(cmd.Context(), baseURL, args[0]); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{"status": "forgotten", "job_id": args[0]})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Forgot job %s\n", args[0])
			return nil
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// abbreviate shortens s to one line of at most n runes.
func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
