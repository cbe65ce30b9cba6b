package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tokenvault/internal/domain"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Server  string
	Secret  string
	As      string
	Timeout time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Administer a tokenvault deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("VAULTD_URL", "http://localhost:8080"), "vaultd base URL")
	cmd.PersistentFlags().StringVar(&opts.Secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret shared with vaultd")
	cmd.PersistentFlags().StringVar(&opts.As, "as", os.Getenv("VAULT_ADMIN_ADDRESS"), "address to act as")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newUpgradeCommand(opts))
	cmd.AddCommand(newRolesCommand(opts))
	cmd.AddCommand(newVerifyJournalCommand())

	return cmd
}

func (o *rootOptions) caller() (domain.Address, error) {
	if o.As == "" {
		return "", fmt.Errorf("--as (or VAULT_ADMIN_ADDRESS) is required")
	}
	return domain.ParseAddress(o.As)
}

func (o *rootOptions) client() (*apiClient, error) {
	caller, err := o.caller()
	if err != nil {
		return nil, err
	}
	if o.Secret == "" {
		return nil, fmt.Errorf("--secret (or JWT_SECRET) is required")
	}
	return newAPIClient(o.Server, o.Secret, caller, o.Timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
