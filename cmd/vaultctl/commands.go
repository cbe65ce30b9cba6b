package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tokenvault/internal/domain"
	"tokenvault/internal/middleware"
	"tokenvault/internal/repository/postgres"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the --as address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := opts.caller()
			if err != nil {
				return err
			}
			if opts.Secret == "" {
				return fmt.Errorf("--secret (or JWT_SECRET) is required")
			}
			token, err := middleware.IssueToken(opts.Secret, caller, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the vault's active version and parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var status map[string]interface{}
			if err := c.do(http.MethodGet, "/api/v1/vault", nil, &status); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newDeployCommand(opts *rootOptions) *cobra.Command {
	var assetAddr, admin string
	var feeBps int64
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy V1 into an empty vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if admin == "" {
				admin = opts.As
			}
			var status map[string]interface{}
			err = c.do(http.MethodPost, "/api/v1/vault/deploy", map[string]interface{}{
				"asset":           assetAddr,
				"admin":           admin,
				"deposit_fee_bps": feeBps,
			}, &status)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().StringVar(&assetAddr, "asset", os.Getenv("VAULT_ASSET_ADDRESS"), "custody token address")
	cmd.Flags().StringVar(&admin, "admin", "", "address granted every role (defaults to --as)")
	cmd.Flags().Int64Var(&feeBps, "fee-bps", 0, "deposit fee in basis points")
	return cmd
}

func newUpgradeCommand(opts *rootOptions) *cobra.Command {
	var rateBps, delay int64
	cmd := &cobra.Command{
		Use:   "upgrade <V2|V3>",
		Short: "Promote the vault to the next implementation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := domain.ParseVersion(args[0])
			if err != nil {
				return err
			}
			body := map[string]interface{}{"version": target.String()}
			switch target {
			case domain.V2:
				if !cmd.Flags().Changed("rate-bps") {
					return fmt.Errorf("--rate-bps is required for V2")
				}
				body["rate_bps"] = rateBps
			case domain.V3:
				if !cmd.Flags().Changed("delay") {
					return fmt.Errorf("--delay is required for V3")
				}
				body["delay_seconds"] = delay
			default:
				return fmt.Errorf("cannot upgrade to %s", target)
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			var status map[string]interface{}
			if err := c.do(http.MethodPost, "/api/v1/vault/upgrade", body, &status); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().Int64Var(&rateBps, "rate-bps", 0, "annual yield rate in basis points (V2)")
	cmd.Flags().Int64Var(&delay, "delay", 0, "withdrawal delay in seconds (V3)")
	return cmd
}

func newRolesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and change role membership",
	}

	change := func(action string) *cobra.Command {
		return &cobra.Command{
			Use:   action + " <role> <account>",
			Short: action + " a role",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := opts.client()
				if err != nil {
					return err
				}
				var out map[string]interface{}
				err = c.do(http.MethodPost, "/api/v1/vault/roles/"+action, map[string]string{
					"role":    args[0],
					"account": args[1],
				}, &out)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		}
	}

	list := &cobra.Command{
		Use:   "list <role>",
		Short: "List a role's members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var out struct {
				Members []domain.Address `json:"members"`
			}
			if err := c.do(http.MethodGet, "/api/v1/vault/roles/"+string(role), nil, &out); err != nil {
				return err
			}
			for _, m := range out.Members {
				fmt.Fprintln(cmd.OutOrStdout(), m.Checksum())
			}
			return nil
		},
	}

	cmd.AddCommand(change("grant"), change("revoke"), list)
	return cmd
}

func newVerifyJournalCommand() *cobra.Command {
	var dbURL, vaultAddr string
	cmd := &cobra.Command{
		Use:   "verify-journal",
		Short: "Check the hash chain of a vault's persisted event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbURL == "" {
				return fmt.Errorf("--database-url (or DATABASE_URL) is required")
			}
			addr, err := domain.ParseAddress(vaultAddr)
			if err != nil {
				return err
			}
			db, err := postgres.Connect(cmd.Context(), dbURL, postgres.PoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			ok, err := postgres.NewEventJournal(db).VerifyChain(cmd.Context(), addr)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("journal for %s has been tampered with", addr.Checksum())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal for %s is intact\n", addr.Checksum())
			return nil
		},
	}
	cmd.Flags().StringVar(&dbURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	cmd.Flags().StringVar(&vaultAddr, "vault", os.Getenv("VAULT_ADDRESS"), "vault address")
	return cmd
}
