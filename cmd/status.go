package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rockgate/internal/config"
	"github.com/nextlevelbuilder/rockgate/internal/gateway"
)

func statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-account status of a running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				os.Exit(1)
			}

			host := cfg.Gateway.Host
			if host == "" {
				host = "127.0.0.1"
			}
			url := fmt.Sprintf("http://%s:%d/status", host, cfg.Gateway.Port)

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gateway unreachable at %s: %v\n", url, err)
				os.Exit(1)
			}
			defer resp.Body.Close()

			var report struct {
				Accounts []gateway.AccountStatus `json:"accounts"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				fmt.Fprintln(os.Stderr, "error: bad status response:", err)
				os.Exit(1)
			}

			if asJSON {
				out, _ := json.MarshalIndent(report, "", "  ")
				fmt.Println(string(out))
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tRUNNING\tCONNECTED\tLAST ERROR\tLAST INBOUND")
			for _, a := range report.Accounts {
				lastIn := "-"
				if a.LastInboundAt != nil {
					lastIn = a.LastInboundAt.Format(time.RFC3339)
				}
				lastErr := a.LastError
				if lastErr == "" {
					lastErr = "-"
				}
				fmt.Fprintf(w, "%s\t%v\t%v\t%s\t%s\n",
					a.AccountID, a.Running, a.Connected, lastErr, lastIn)
			}
			w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON report")
	return cmd
}
