package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"millq/internal/config"
)

// queryFlags are shared by the commands that submit a query.
type queryFlags struct {
	lang   string
	format string
	maxRec int
	file   string
}

func (f *queryFlags) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	fs.StringVar(&f.lang, "lang", "", "Query language (default SQL)")
	fs.StringVar(&f.format, "format", "", "Result format (default csv)")
	fs.IntVar(&f.maxRec, "maxrec", 0, "Maximum number of rows (default 100000)")
	fs.StringVarP(&f.file, "file", "f", "", "Read the query from a file ('-' for stdin)")
	return fs
}

// apply overrides the submission settings of cfg with the flags the user set.
func (f *queryFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("lang") {
		cfg.Lang = f.lang
	}
	if cmd.Flags().Changed("format") {
		cfg.Format = f.format
	}
	if cmd.Flags().Changed("maxrec") {
		if f.maxRec < 0 {
			return fmt.Errorf("--maxrec must not be negative")
		}
		cfg.MaxRec = f.maxRec
	}
	return nil
}

// text returns the query from the positional arguments or --file.
func (f *queryFlags) text(args []string, stdin io.Reader) (string, error) {
	var query string
	switch {
	case f.file != "" && len(args) > 0:
		return "", fmt.Errorf("give the query either as an argument or with --file, not both")
	case f.file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read query from stdin: %w", err)
		}
		query = string(data)
	case f.file != "":
		data, err := os.ReadFile(f.file)
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		query = string(data)
	default:
		query = strings.Join(args, " ")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is empty")
	}
	return query, nil
}
