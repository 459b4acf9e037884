package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"millq/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, errorObject(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorObject describes err for JSON output.
func errorObject(err error) map[string]interface{} {
	errObj := map[string]interface{}{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	}
	var (
		httpErr    *domain.HTTPError
		failedErr  *domain.JobFailedError
		abortedErr *domain.JobAbortedError
		timeoutErr *domain.TimeoutError
	)
	switch {
	case errors.As(err, &httpErr):
		errObj["http_status"] = httpErr.StatusCode
	case errors.As(err, &failedErr):
		errObj["job_id"] = failedErr.JobID
		errObj["message"] = failedErr.Message
	case errors.As(err, &abortedErr):
		errObj["job_id"] = abortedErr.JobID
	case errors.As(err, &timeoutErr):
		errObj["job_id"] = timeoutErr.JobID
		errObj["phase"] = timeoutErr.Phase
		errObj["attempts"] = timeoutErr.Attempts
	}
	return errObj
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "millq",
		Short: "Millennium TAP query client",
		Long: "Command-line client for the asynchronous query service of the " +
			"Millennium Simulation TAP server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.url, "url", "", "TAP async endpoint URL")
	rootCmd.PersistentFlags().StringVar(&opts.username, "username", "", "Account name")
	rootCmd.PersistentFlags().StringVar(&opts.password, "password", "", "Account password (prompted when omitted)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.jobsDB, "jobs-db", "", "Path of the local job ledger")

	rootCmd.AddCommand(newLoginCmd(opts))
	rootCmd.AddCommand(newQueryCmd(opts))
	rootCmd.AddCommand(newSubmitCmd(opts))
	rootCmd.AddCommand(newStartCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newWaitCmd(opts))
	rootCmd.AddCommand(newFetchCmd(opts))
	rootCmd.AddCommand(newAbortCmd(opts))
	rootCmd.AddCommand(newDeleteCmd(opts))
	rootCmd.AddCommand(newJobsCmd(opts))

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
