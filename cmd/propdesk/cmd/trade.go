package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propdesk/broker"
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Open, close, modify and list trades",
	Long: `Trade commands go through the lifecycle manager, so every change is
margin checked and re-evaluated against the account's challenge rules.

Examples:
  propdesk trade open 01J... --symbol EURUSD --side BUY --volume 0.5 --price 1.0842 --sl 1.08
  propdesk trade close 01K... --price 1.0871
  propdesk trade modify 01K... --tp 1.09
  propdesk trade list 01J...`,
}

var tradeOpenCmd = &cobra.Command{
	Use:   "open <account-id>",
	Short: "Open a trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradeOpen,
}

var tradeCloseCmd = &cobra.Command{
	Use:   "close <trade-id>",
	Short: "Close a trade at --price, or at the feed's close-side price",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradeClose,
}

var tradeModifyCmd = &cobra.Command{
	Use:   "modify <trade-id>",
	Short: "Move a trade's stop-loss and take-profit",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradeModify,
}

var tradeListCmd = &cobra.Command{
	Use:   "list <account-id>",
	Short: "List an account's trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradeList,
}

var tradeFlags struct {
	symbol, side, positionType string
	volume, price, leverage    float64
	sl, tp, profit             float64
	openOnly                   bool
}

func init() {
	rootCmd.AddCommand(tradeCmd)
	tradeCmd.AddCommand(tradeOpenCmd, tradeCloseCmd, tradeModifyCmd, tradeListCmd)

	f := tradeOpenCmd.Flags()
	f.StringVar(&tradeFlags.symbol, "symbol", "", "symbol, e.g. EURUSD or BTC/USDT (required)")
	f.StringVar(&tradeFlags.side, "side", "BUY", "BUY or SELL")
	f.StringVar(&tradeFlags.positionType, "type", "", "CFD or SPOT (default by platform)")
	f.Float64Var(&tradeFlags.volume, "volume", 0, "lots on mt5, base units elsewhere (required)")
	f.Float64Var(&tradeFlags.price, "price", 0, "open price (required)")
	f.Float64Var(&tradeFlags.leverage, "leverage", 0, "leverage (default 100)")
	f.Float64Var(&tradeFlags.sl, "sl", 0, "stop-loss price")
	f.Float64Var(&tradeFlags.tp, "tp", 0, "take-profit price")
	tradeOpenCmd.MarkFlagRequired("symbol")
	tradeOpenCmd.MarkFlagRequired("volume")
	tradeOpenCmd.MarkFlagRequired("price")

	tradeCloseCmd.Flags().Float64Var(&tradeFlags.price, "price", 0, "close price (default: current close-side quote)")
	tradeCloseCmd.Flags().Float64Var(&tradeFlags.profit, "profit", 0, "realized profit, overriding the computed one")

	tradeModifyCmd.Flags().Float64Var(&tradeFlags.sl, "sl", 0, "new stop-loss price")
	tradeModifyCmd.Flags().Float64Var(&tradeFlags.tp, "tp", 0, "new take-profit price")

	tradeListCmd.Flags().BoolVar(&tradeFlags.openOnly, "open", false, "only open trades")
}

// optional returns nil for an unset flag.
func optional(cmd *cobra.Command, name string, v float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return broker.Float(v)
}

func runTradeOpen(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.engine.OpenTrade(cmd.Context(), args[0], broker.OpenTradeRequest{
		Symbol:       tradeFlags.symbol,
		Side:         broker.Side(strings.ToUpper(tradeFlags.side)),
		PositionType: broker.PositionType(strings.ToUpper(tradeFlags.positionType)),
		Volume:       tradeFlags.volume,
		OpenPrice:    tradeFlags.price,
		Leverage:     tradeFlags.leverage,
		StopLoss:     optional(cmd, "sl", tradeFlags.sl),
		TakeProfit:   optional(cmd, "tp", tradeFlags.tp),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), t)
}

func runTradeClose(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.CloseOrModifyTrade(cmd.Context(), args[0], broker.UpdateTradeRequest{
		Close:      true,
		ClosePrice: optional(cmd, "price", tradeFlags.price),
		Profit:     optional(cmd, "profit", tradeFlags.profit),
	})
	if err != nil {
		return err
	}
	if !res.Closed {
		a.log.Info("trade was already closed", "trade", res.Trade.ID)
	}
	if res.EvalErr != nil {
		a.log.Error("account not evaluated", "account", res.Account.ID, "err", res.EvalErr)
	}
	return printJSON(cmd.OutOrStdout(), struct {
		Trade   broker.Trade   `json:"trade"`
		Account broker.Account `json:"account"`
		Closed  bool           `json:"closed"`
	}{res.Trade, res.Account, res.Closed})
}

func runTradeModify(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.CloseOrModifyTrade(cmd.Context(), args[0], broker.UpdateTradeRequest{
		StopLoss:   optional(cmd, "sl", tradeFlags.sl),
		TakeProfit: optional(cmd, "tp", tradeFlags.tp),
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res.Trade)
}

func runTradeList(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var trades []broker.Trade
	if tradeFlags.openOnly {
		trades, err = a.store.ListOpenTrades(cmd.Context(), args[0])
	} else {
		trades, err = a.store.ListTrades(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), trades)
}
