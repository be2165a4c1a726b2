package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quicktrade/internal/models"
	"quicktrade/internal/trading"
	"quicktrade/pkg/utils"
)

// addTradeCommands adds order entry, exits and the portfolio views.
func addTradeCommands(rootCmd *cobra.Command, rt *cliState) {
	rootCmd.AddCommand(newOrderCmd(rt))
	rootCmd.AddCommand(newExitCmd(rt))
	rootCmd.AddCommand(newExitAllCmd(rt))
	rootCmd.AddCommand(newPositionsCmd(rt))
	rootCmd.AddCommand(newOrdersCmd(rt))
	rootCmd.AddCommand(newTradesCmd(rt))
}

func newOrderCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order <index> <CALL|PUT>",
		Short: "Buy the at-the-money option",
		Long: `Buy the at-the-money option of an index at market.

The quantity is lots times the index lot size. When a stop loss or target
applies, from the flags or the [bracket] defaults, a GTT exit is placed
around the option price.`,
		Example: `  quicktrade order NIFTY CALL
  quicktrade order BANKNIFTY PUT --lots 2 --sl 20 --target 50`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			index, err := indexArg(args[0])
			if err != nil {
				return err
			}
			direction, err := directionArg(args[1])
			if err != nil {
				return err
			}
			lots, _ := cmd.Flags().GetInt("lots")

			req := trading.OrderRequest{
				Index:     index,
				Direction: direction,
				Lots:      lots,
				Today:     rt.app.Today(),
			}
			if cmd.Flags().Changed("sl") {
				v, _ := cmd.Flags().GetFloat64("sl")
				req.StopLossPercent = &v
			}
			if cmd.Flags().Changed("target") {
				v, _ := cmd.Flags().GetFloat64("target")
				req.TargetPercent = &v
			}

			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()
			resp, err := rt.app.Orders.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(resp)
			}
			mode := "LIVE"
			if resp.IsPaper {
				mode = "PAPER"
			}
			output.Success("[%s] Bought %s x %d (%d lots)", mode, resp.Symbol, resp.Quantity, resp.Lots)
			output.Printf("  Order ID:  %s\n", resp.OrderID)
			output.Printf("  Spot:      %s  Strike: %d\n", utils.FormatIndianNumber(resp.Spot), resp.Strike)
			output.Printf("  Expiry:    %s (%s)\n", resp.Expiry.Date, resp.Expiry.Classification)
			if resp.GTTID != "" {
				output.Printf("  GTT:       %s  SL %.2f  Target %.2f\n", resp.GTTID, resp.StopLoss, resp.Target)
			}
			if resp.BracketError != "" {
				output.Warning("  Bracket not placed: %s", resp.BracketError)
			}
			return nil
		},
	}
	cmd.Flags().Int("lots", 1, "number of lots")
	cmd.Flags().Float64("sl", 0, "stop loss percent below the fill (0 disables)")
	cmd.Flags().Float64("target", 0, "target percent above the fill (0 disables)")
	return cmd
}

func newExitCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "exit <symbol>",
		Short:   "Close one open option position at market",
		Example: "  quicktrade exit NIFTY24JAN24950CE",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			result, err := rt.app.Orders.ExitPosition(ctx, strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			output.Success("Exited %s: %s %d (order %s)", result.Symbol, result.Side, result.Quantity, result.OrderID)
			return nil
		},
	}
}

func newExitAllCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exit-all",
		Short: "Close every open intraday option position",
		Example: `  quicktrade exit-all          # list what would be closed
  quicktrade exit-all --force  # close them`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			force, _ := cmd.Flags().GetBool("force")
			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			if !force {
				summary, err := rt.app.Portfolio.Summary(ctx)
				if err != nil {
					return err
				}
				if summary.TotalPositions == 0 {
					output.Info("No open positions")
					return nil
				}
				output.Warning("About to exit %d positions:", summary.TotalPositions)
				for _, p := range summary.Positions {
					output.Printf("  %s: %d (P&L: %s)\n", p.Symbol, p.Quantity, output.FormatPnL(p.PnL))
				}
				output.Warning("Use --force to confirm exit")
				return nil
			}

			result, err := rt.app.Orders.ExitAll(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(result)
			}
			for _, e := range result.Exited {
				output.Success("Exited %s", e.Symbol)
			}
			for _, f := range result.Failed {
				output.Error("Failed to exit %s: %s", f.Symbol, f.Error)
			}
			output.Println(result.Message)
			if !result.Success {
				return fmt.Errorf("%d positions could not be exited", len(result.Failed))
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "place the exit orders")
	return cmd
}

func newPositionsCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "View open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			summary, err := rt.app.Portfolio.Summary(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}
			if summary.TotalPositions == 0 {
				output.Info("No open positions")
				return nil
			}

			table := NewTable(output, "SYMBOL", "PRODUCT", "QTY", "AVG", "LTP", "P&L")
			for _, p := range summary.Positions {
				table.AddRow(
					p.Symbol,
					string(p.Product),
					utils.FormatQuantity(p.Quantity),
					fmt.Sprintf("%.2f", p.AveragePrice),
					fmt.Sprintf("%.2f", p.LTP),
					output.FormatPnL(p.PnL),
				)
			}
			table.Render()
			output.Println()
			output.Printf("Total P&L: %s\n", output.FormatPnL(summary.TotalPnL))
			return nil
		},
	}
}

func newOrdersCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "View today's orders, latest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			orders, err := rt.app.Portfolio.OrdersOn(ctx, rt.app.Today())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Info("No orders today")
				return nil
			}

			table := NewTable(output, "TIME", "ORDER ID", "SYMBOL", "SIDE", "QTY", "PRICE", "STATUS")
			for _, o := range orders {
				table.AddRow(
					o.PlacedAt.In(utils.IndiaLocation).Format("15:04:05"),
					o.ID,
					o.Symbol,
					string(o.Side),
					utils.FormatQuantity(o.Quantity),
					fmt.Sprintf("%.2f", o.AveragePrice),
					o.Status,
				)
			}
			table.Render()
			return nil
		},
	}
}

func newTradesCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "View the trade journal",
		Example: `  quicktrade trades --limit 20
  quicktrade trades --symbol NIFTY24JAN24950CE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()
			trades, err := rt.app.Store.ListTrades(ctx, models.TradeFilter{
				Symbol: strings.ToUpper(symbol),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Info("No trades recorded")
				return nil
			}

			table := NewTable(output, "TIME", "ACTION", "SYMBOL", "SIDE", "QTY", "STATUS", "ORDER ID")
			for _, t := range trades {
				status := output.green.Sprint(string(t.Status))
				if t.Status == models.TradeStatusFailed {
					status = output.red.Sprint(string(t.Status))
				}
				table.AddRow(
					t.Timestamp.In(utils.IndiaLocation).Format("2006-01-02 15:04:05"),
					string(t.Action),
					t.Symbol,
					string(t.Side),
					utils.FormatQuantity(t.Quantity),
					status,
					t.OrderID,
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "only trades in this symbol")
	cmd.Flags().Int("limit", 50, "maximum number of trades")
	return cmd
}
