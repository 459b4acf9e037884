package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials against the TAP service",
		Long: "Authenticate against the TAP service and report the session it issues. " +
			"With --save the URL and username are stored in the active profile; the " +
			"password is never written.",
		Example: `  # Prompt for the password of user astro
  millq login --username astro

  # Remember the account in the active profile
  millq login --username astro --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.connect(cmd.Context(), "")
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck

			cookies := len(client.Session().Cookies(client.BaseURL()))

			if save {
				if err := saveAccount(opts.cfg.BaseURL, opts.cfg.Username, opts.profile); err != nil {
					return err
				}
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]interface{}{
					"status":   "ok",
					"url":      client.BaseURL(),
					"username": opts.cfg.Username,
					"cookies":  cookies,
				})
			}
			user := opts.cfg.Username
			if user == "" {
				user = "anonymous"
			}
			_, _ = fmt.Fprintf(os.Stdout, "Logged in to %s as %s (%d session cookies)\n", client.BaseURL(), user, cookies)
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "Store URL and username in the active profile")
	return cmd
}

// saveAccount writes the URL and username into the named profile, or the
// current one when name is empty.
func saveAccount(rawURL, username, name string) error {
	cfg, err := LoadUserConfig()
	if err != nil {
		cfg = &UserConfig{Profiles: make(map[string]Profile)}
	}
	if name == "" {
		name = cfg.CurrentProfile
	}
	if name == "" {
		name = "default"
	}
	if cfg.CurrentProfile == "" {
		cfg.CurrentProfile = name
	}
	p := cfg.Profiles[name]
	p.URL = rawURL
	p.Username = username
	cfg.Profiles[name] = p
	if err := SaveUserConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
