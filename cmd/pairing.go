package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rockgate/internal/config"
	"github.com/nextlevelbuilder/rockgate/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing approvals",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func openPairingStore() (*store.PairingStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(config.ExpandHome(cfg.Pairing.Storage))
}

func pairingListCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pairing requests and approvals",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openPairingStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer s.Close()

			pairings, err := s.List(context.Background(), accountID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			if len(pairings) == 0 {
				fmt.Println("no pairing records")
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tUSER\tCODE\tSTATE\tCREATED")
			for _, p := range pairings {
				state := "pending"
				if p.Approved {
					state = "approved"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					p.AccountID, p.UserID, p.Code, state, p.CreatedAt.Format(time.RFC3339))
			}
			w.Flush()
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "limit to one account")
	return cmd
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request by code",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openPairingStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer s.Close()

			p, err := s.Approve(context.Background(), args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Printf("approved %s on account %s\n", p.UserID, p.AccountID)
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke a sender's pairing",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := openPairingStore()
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			defer s.Close()

			if accountID == "" {
				accountID = config.DefaultAccountID
			}
			if err := s.Revoke(context.Background(), accountID, args[0]); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}
			fmt.Printf("revoked %s on account %s\n", args[0], accountID)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id (default: the default account)")
	return cmd
}
