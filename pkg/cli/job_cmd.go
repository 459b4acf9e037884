package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"millq/internal/domain"
	"millq/internal/sink"
	"millq/internal/uws"
)

// jobResult is the machine-readable outcome of a job command.
type jobResult struct {
	JobID    string       `json:"job_id"`
	JobURL   string       `json:"job_url,omitempty"`
	Phase    domain.Phase `json:"phase,omitempty"`
	Error    string       `json:"error,omitempty"`
	Bytes    *int64       `json:"bytes,omitempty"`
	Location string       `json:"location,omitempty"`
}

func printJobResult(cmd *cobra.Command, res jobResult) error {
	if getOutputFormat(cmd) == "json" {
		return printJSON(os.Stdout, res)
	}
	row := []string{res.JobID, string(res.Phase)}
	header := []string{"job", "phase"}
	if res.Location != "" {
		header = append(header, "bytes", "location")
		row = append(row, strconv.FormatInt(*res.Bytes, 10), res.Location)
	}
	if res.Error != "" {
		header = append(header, "error")
		row = append(row, res.Error)
	}
	return printTable(os.Stdout, header, [][]string{row})
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		qf          queryFlags
		out         string
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Submit a query, wait for it and download the result",
		Long: "Submit a query, start it, poll until it finishes and save the result. " +
			"Without --out the raw result is written to stdout.",
		Example: `  millq query "select top 10 * from millimil..DeLucia2006a" --out halos.csv
  millq query -f query.sql --format votable --out s3://bucket/mill/halos.xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query, err := qf.text(args, os.Stdin)
			if err != nil {
				return err
			}
			if err := qf.apply(cmd, opts.cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("max-attempts") {
				opts.cfg.MaxAttempts = maxAttempts
			}

			client, err := opts.connect(ctx, "")
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck

			repo, closeLedger := opts.ledger()
			defer closeLedger()
			t := opts.tracker(repo, client)

			job, err := client.Submit(ctx, query)
			if err != nil {
				return err
			}
			t.recordSubmit(ctx, job, client.Request())

			if err := client.Start(ctx); err != nil {
				return err
			}
			if _, err := waitForJob(ctx, client, t, opts.cfg.MaxAttempts); err != nil {
				return err
			}

			location, n, err := opts.saveResults(ctx, client, out)
			if err != nil {
				return err
			}
			t.recordResult(ctx, job.ID, location)
			if location == "-" {
				return nil
			}
			return printJobResult(cmd, jobResult{
				JobID:    job.ID,
				JobURL:   job.URL,
				Phase:    domain.PhaseCompleted,
				Bytes:    &n,
				Location: location,
			})
		},
	}

	cmd.Flags().AddFlagSet(qf.flagSet())
	cmd.Flags().StringVar(&out, "out", "", "Result destination: path, file://, s3://, gs://, az:// or abfss:// ('-' for stdout)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Status checks before giving up, 0 for no limit (default MILLQ_MAX_ATTEMPTS or 100)")
	return cmd
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		qf    queryFlags
		start bool
	)

	cmd := &cobra.Command{
		Use:   "submit [SQL]",
		Short: "Submit a query without waiting for it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query, err := qf.text(args, os.Stdin)
			if err != nil {
				return err
			}
			if err := qf.apply(cmd, opts.cfg); err != nil {
				return err
			}

			client, err := opts.connect(ctx, "")
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck

			repo, closeLedger := opts.ledger()
			defer closeLedger()
			t := opts.tracker(repo, client)

			job, err := client.Submit(ctx, query)
			if err != nil {
				return err
			}
			t.recordSubmit(ctx, job, client.Request())

			if start {
				if err := client.Start(ctx); err != nil {
					return err
				}
			}
			phase, err := currentPhase(ctx, client, t)
			if err != nil {
				return err
			}
			return printJobResult(cmd, jobResult{JobID: job.ID, JobURL: job.URL, Phase: phase})
		},
	}

	cmd.Flags().AddFlagSet(qf.flagSet())
	cmd.Flags().BoolVar(&start, "start", false, "Start the job right after submitting it")
	return cmd
}

// newJobCmd builds a command that acts on one existing job.
func newJobCmd(opts *rootOptions, use, short string, run func(ctx context.Context, cmd *cobra.Command, client *uws.Client, t *track) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.connect(ctx, args[0])
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck

			repo, closeLedger := opts.ledger()
			defer closeLedger()
			return run(ctx, cmd, client, opts.tracker(repo, client))
		},
	}
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return newJobCmd(opts, "start <job-id>", "Start a submitted job",
		func(ctx context.Context, cmd *cobra.Command, client *uws.Client, t *track) error {
			if err := client.Start(ctx); err != nil {
				return err
			}
			phase, err := currentPhase(ctx, client, t)
			if err != nil {
				return err
			}
			job := client.Job()
			return printJobResult(cmd, jobResult{JobID: job.ID, JobURL: job.URL, Phase: phase})
		})
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return newJobCmd(opts, "status <job-id>", "Show the current phase of a job",
		func(ctx context.Context, cmd *cobra.Command, client *uws.Client, t *track) error {
			job := client.Job()
			phase, err := client.Phase(ctx)
			if err != nil {
				return err
			}
			res := jobResult{JobID: job.ID, JobURL: job.URL, Phase: phase}
			var msg *string
			if phase == domain.PhaseError {
				text, err := client.ErrorMessage(ctx)
				var protocolErr *domain.ProtocolError
				switch {
				case errors.As(err, &protocolErr):
					// ERROR without a summary; keep the phase alone.
				case err != nil:
					return err
				default:
					res.Error = text
					msg = &text
				}
			}
			t.recordPhase(ctx, job.ID, phase, msg)
			return printJobResult(cmd, res)
		})
}

func newWaitCmd(opts *rootOptions) *cobra.Command {
	var maxAttempts int

	cmd := newJobCmd(opts, "wait <job-id>", "Poll a job until it finishes",
		func(ctx context.Context, cmd *cobra.Command, client *uws.Client, t *track) error {
			if cmd.Flags().Changed("max-attempts") {
				opts.cfg.MaxAttempts = maxAttempts
			}
			phase, err := waitForJob(ctx, client, t, opts.cfg.MaxAttempts)
			if err != nil {
				return err
			}
			job := client.Job()
			return printJobResult(cmd, jobResult{JobID: job.ID, JobURL: job.URL, Phase: phase})
		})
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Status checks before giving up, 0 for no limit (default MILLQ_MAX_ATTEMPTS or 100)")
	return cmd
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <job-id> [destination]",
		Short: "Download the result of a completed job",
		Long: "Download the result of a completed job to a path, file://, s3://, gs://, " +
			"az:// or abfss:// destination. Without a destination, or with '-', the raw " +
			"result is written to stdout.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dest := "-"
			if len(args) == 2 {
				dest = args[1]
			}

			client, err := opts.connect(ctx, args[0])
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck

			repo, closeLedger := opts.ledger()
			defer closeLedger()
			t := opts.tracker(repo, client)

			location, n, err := opts.saveResults(ctx, client, dest)
			if err != nil {
				return err
			}
			job := client.Job()
			t.recordResult(ctx, job.ID, location)
			if location == "-" {
				return nil
			}
			return printJobResult(cmd, jobResult{
				JobID:    job.ID,
				JobURL:   job.URL,
				Phase:    domain.PhaseCompleted,
				Bytes:    &n,
				Location: location,
			})
		},
	}
	return cmd
}

func newAbortCmd(opts *rootOptions) *cobra.Command {
	return newJobCmd(opts, "abort <job-id>", "Abort a queued or running job",
		func(ctx context.Context, cmd *cobra.Command, client *uws.Client, t *track) error {
			if err := client.Abort(ctx); err != nil {
				return err
			}
			phase, err := currentPhase(ctx, client, t)
			if err != nil {
				return err
			}
			job := client.Job()
			return printJobResult(cmd, jobResult{JobID: job.ID, JobURL: job.URL, Phase: phase})
		})
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return newJobCmd(opts, "delete <job-id>", "Delete a job and its results on the server",
		func(ctx context.Context, cmd *cobra.Command, client *uws.Client, t *track) error {
			if err := client.Delete(ctx); err != nil {
				return err
			}
			job := client.Job()
			t.forget(ctx, job.ID)
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{"status": "deleted", "job_id": job.ID})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Deleted job %s\n", job.ID)
			return nil
		})
}

// currentPhase asks the server for the job's phase after a request that
// changes it and records the answer.
func currentPhase(ctx context.Context, client *uws.Client, t *track) (domain.Phase, error) {
	phase, err := client.Phase(ctx)
	if err != nil {
		return "", err
	}
	t.recordPhase(ctx, client.Job().ID, phase, nil)
	return phase, nil
}

// waitForJob polls the job and records the terminal phase in the ledger,
// including the error summary of a failed job.
func waitForJob(ctx context.Context, client *uws.Client, t *track, maxAttempts int) (domain.Phase, error) {
	job := client.Job()
	phase, err := client.Poll(ctx, maxAttempts)
	var failedErr *domain.JobFailedError
	if errors.As(err, &failedErr) {
		msg := failedErr.Message
		t.recordPhase(ctx, job.ID, phase, &msg)
	} else {
		t.recordPhase(ctx, job.ID, phase, nil)
	}
	return phase, err
}

// saveResults downloads the result of the client's job to dest and returns
// where it ended up. "" and "-" write to stdout.
func (o *rootOptions) saveResults(ctx context.Context, client *uws.Client, dest string) (string, int64, error) {
	if dest == "" || dest == "-" {
		n, err := client.FetchResults(ctx, os.Stdout)
		return "-", n, err
	}

	w, err := sink.Open(ctx, dest, o.cfg.SinkOptions())
	if err != nil {
		return "", 0, err
	}
	n, err := client.FetchResults(ctx, w)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			o.logger.Warn("discard partial result", "location", w.Location(), "error", abortErr)
		}
		return "", n, err
	}
	if err := w.Commit(ctx); err != nil {
		return "", n, fmt.Errorf("save result to %s: %w", w.Location(), err)
	}
	o.logger.Info("result saved", "job_id", client.Job().ID, "location", w.Location(), "bytes", n)
	return w.Location(), n, nil
}
