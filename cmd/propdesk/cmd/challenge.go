package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propdesk/broker"
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Manage challenge rule sets",
}

var challengeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a challenge",
	Long: `Create an immutable challenge rule set.

Percentages left unset are stored as missing; accounts on such a challenge
cannot trade until it is fixed.

Example:
  propdesk challenge create --id 10K --size 10000 --daily 5 --overall 10 \
    --phase1 8 --phase2 5 --min-days 3`,
	Args: cobra.NoArgs,
	RunE: runChallengeCreate,
}

var challengeShowCmd = &cobra.Command{
	Use:   "show <challenge-id>",
	Short: "Show a challenge",
	Args:  cobra.ExactArgs(1),
	RunE:  runChallengeShow,
}

var challengeFlags struct {
	id, name                       string
	size                           float64
	daily, overall, phase1, phase2 float64
	minDays                        int
}

func init() {
	rootCmd.AddCommand(challengeCmd)
	challengeCmd.AddCommand(challengeCreateCmd)
	challengeCmd.AddCommand(challengeShowCmd)

	f := challengeCreateCmd.Flags()
	f.StringVar(&challengeFlags.id, "id", "", "challenge id (required)")
	f.StringVar(&challengeFlags.name, "name", "", "display name")
	f.Float64Var(&challengeFlags.size, "size", 0, "account size (required)")
	f.Float64Var(&challengeFlags.daily, "daily", 0, "daily drawdown limit, percent")
	f.Float64Var(&challengeFlags.overall, "overall", 0, "overall drawdown limit, percent")
	f.Float64Var(&challengeFlags.phase1, "phase1", 0, "phase 1 profit target, percent")
	f.Float64Var(&challengeFlags.phase2, "phase2", 0, "phase 2 profit target, percent")
	f.IntVar(&challengeFlags.minDays, "min-days", 0, "minimum trading days per phase")
	challengeCreateCmd.MarkFlagRequired("id")
	challengeCreateCmd.MarkFlagRequired("size")
}

func runChallengeCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if challengeFlags.size <= 0 {
		return fmt.Errorf("--size must be positive")
	}
	c := broker.Challenge{
		ID:                     challengeFlags.id,
		Name:                   challengeFlags.name,
		AccountSize:            challengeFlags.size,
		DailyDrawdownPercent:   optional(cmd, "daily", challengeFlags.daily),
		OverallDrawdownPercent: optional(cmd, "overall", challengeFlags.overall),
		Phase1TargetPercent:    optional(cmd, "phase1", challengeFlags.phase1),
		Phase2TargetPercent:    optional(cmd, "phase2", challengeFlags.phase2),
		MinTradingDays:         challengeFlags.minDays,
	}
	if err := a.store.CreateChallenge(cmd.Context(), c); err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), c)
}

func runChallengeShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.store.GetChallenge(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), c)
}
