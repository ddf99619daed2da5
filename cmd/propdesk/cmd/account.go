package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/journal"
	"github.com/rustyeddy/propdesk/sim"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage challenge accounts",
	Long: `Create and inspect challenge accounts.

Subcommands:
  create  - Start a PHASE1 account on a challenge
  list    - List accounts, optionally by status
  show    - Show an account with its live compliance metrics
  export  - Write an account's trades and equity curve to CSV

Examples:
  propdesk account create --user u1 --challenge 10K
  propdesk account show 01J...
  propdesk account export 01J... --trades trades.csv --equity equity.csv`,
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start an account on a challenge",
	Args:  cobra.NoArgs,
	RunE:  runAccountCreate,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

var accountShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Show an account and its metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

var accountExportCmd = &cobra.Command{
	Use:   "export <account-id>",
	Short: "Export trades and equity snapshots to CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountExport,
}

var (
	accountUser      string
	accountChallenge string
	accountPlatform  string
	accountStatuses  []string
	exportTrades     string
	exportEquity     string
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd, accountListCmd, accountShowCmd, accountExportCmd)

	accountCreateCmd.Flags().StringVar(&accountUser, "user", "", "owning user id (required)")
	accountCreateCmd.Flags().StringVar(&accountChallenge, "challenge", "", "challenge id (required)")
	accountCreateCmd.Flags().StringVar(&accountPlatform, "platform", "", "mt5, bybit or spot (default from config)")
	accountCreateCmd.MarkFlagRequired("user")
	accountCreateCmd.MarkFlagRequired("challenge")

	accountListCmd.Flags().StringSliceVar(&accountStatuses, "status", nil, "filter by status, e.g. ACTIVE,DAILY_LOCKED")

	accountExportCmd.Flags().StringVar(&exportTrades, "trades", "./trades.csv", "trades CSV output path")
	accountExportCmd.Flags().StringVar(&exportEquity, "equity", "./equity.csv", "equity CSV output path")
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	platform := accountPlatform
	if platform == "" {
		platform = a.cfg.Trading.Platform
	}
	acct, err := a.engine.OpenAccount(cmd.Context(), accountUser, accountChallenge, broker.Platform(platform))
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), acct)
}

func runAccountList(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	statuses := make([]broker.Status, 0, len(accountStatuses))
	for _, s := range accountStatuses {
		statuses = append(statuses, broker.Status(s))
	}
	accounts, err := a.store.ListAccountsByStatus(cmd.Context(), statuses...)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), accounts)
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	acct, err := a.store.GetAccount(ctx, args[0])
	if err != nil {
		return err
	}
	open, err := a.store.ListOpenTrades(ctx, acct.ID)
	if err != nil {
		return err
	}
	violations, err := a.store.ListViolations(ctx, acct.ID)
	if err != nil {
		return err
	}

	out := struct {
		Account    broker.Account      `json:"account"`
		Metrics    *sim.AccountMetrics `json:"metrics,omitempty"`
		EvalError  string              `json:"evalError,omitempty"`
		OpenTrades []broker.Trade      `json:"openTrades"`
		Violations []broker.Violation  `json:"violations"`
	}{Account: acct, OpenTrades: open, Violations: violations}

	if ev, err := a.engine.Evaluate(ctx, acct.ID, nil); err != nil {
		out.EvalError = err.Error()
	} else {
		m := sim.NewAccountMetrics(ev)
		out.Metrics = &m
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runAccountExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := journal.ExportCSV(cmd.Context(), a.store, args[0], exportTrades, exportEquity); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %s\n  trades: %s\n  equity: %s\n", args[0], exportTrades, exportEquity)
	return nil
}
