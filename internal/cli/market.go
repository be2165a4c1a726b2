package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
	"quicktrade/internal/trading"
	"quicktrade/pkg/utils"
)

func addMarketCommands(rootCmd *cobra.Command, rt *cliState) {
	rootCmd.AddCommand(newPriceCmd(rt))
	rootCmd.AddCommand(newStrikeCmd(rt))
	rootCmd.AddCommand(newSymbolCmd(rt))
	rootCmd.AddCommand(newExpiryCmd(rt))
}

func indexArg(raw string) (models.Index, error) {
	index, ok := models.ParseIndex(raw)
	if !ok {
		return "", apperrors.NewUnknownIndex(raw)
	}
	return index, nil
}

func directionArg(raw string) (models.Direction, error) {
	direction, ok := models.ParseDirection(raw)
	if !ok {
		return "", apperrors.NewInvalidDirection(raw)
	}
	return direction, nil
}

func newPriceCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "price <index>",
		Short:   "Show the index price and its at-the-money strike",
		Example: "  quicktrade price NIFTY",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			index, err := indexArg(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()
			spot, strike, err := rt.app.Strikes.CurrentStrike(ctx, index)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"index": index, "price": spot, "strike": strike})
			}
			output.Printf("%s  %s\n", output.bold.Sprint(index), utils.FormatIndianNumber(spot))
			output.Printf("ATM strike  %d\n", strike)
			output.Dim("Market %s", output.MarketStatus(utils.MarketStatusAt(time.Now())))
			return nil
		},
	}
}

func newStrikeCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "strike <index> [spot]",
		Short: "Round a spot price to the nearest strike",
		Long: `Round a spot price to the nearest strike of the index.

Without a spot price the live index price is used.`,
		Example: `  quicktrade strike NIFTY 24975.5
  quicktrade strike BANKNIFTY`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			index, err := indexArg(args[0])
			if err != nil {
				return err
			}

			var (
				spot   float64
				strike int
			)
			if len(args) == 2 {
				spot, err = strconv.ParseFloat(args[1], 64)
				if err != nil {
					return apperrors.NewInvalidInput("spot", "must be a number")
				}
				strike, err = rt.app.Strikes.GetStrike(index, spot)
			} else {
				ctx, cancel := commandContext(cmd.Context(), rt.app)
				defer cancel()
				spot, strike, err = rt.app.Strikes.CurrentStrike(ctx, index)
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"index": index, "spot": spot, "strike": strike})
			}
			output.Printf("%s %s -> %d\n", index, utils.FormatIndianNumber(spot), strike)
			return nil
		},
	}
}

func newSymbolCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "symbol <index> <CALL|PUT>",
		Short:   "Show the at-the-money option symbol",
		Example: "  quicktrade symbol NIFTY CALL",
		Args:    cobra.ExactArgs(2),
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

			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()
			quote, err := rt.app.Symbols.Resolve(ctx, index, direction, rt.app.Today())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(quote)
			}
			output.Bold(quote.Symbol)
			output.Printf("  Spot:    %s\n", utils.FormatIndianNumber(quote.Spot))
			output.Printf("  Strike:  %d\n", quote.Strike)
			output.Printf("  Expiry:  %s (%s)\n", quote.Expiry.Date, quote.Expiry.Classification)
			return nil
		},
	}
}

func newExpiryCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expiry [index]",
		Short: "Show the current expiry of each index",
		Long: `Show the current expiry of each index.

Expiries are cached and refreshed from Fyers once they lapse. --refresh
fetches them again even when cached; a failed fetch keeps the old record.`,
		Example: `  quicktrade expiry
  quicktrade expiry BANKNIFTY --refresh`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			refresh, _ := cmd.Flags().GetBool("refresh")

			indices := models.Indices()
			if len(args) == 1 {
				index, err := indexArg(args[0])
				if err != nil {
					return err
				}
				indices = []models.Index{index}
			}

			cache := rt.app.Symbols.Expiries()
			today := rt.app.Today()
			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			records := make([]models.ExpiryRecord, 0, len(indices))
			for _, index := range indices {
				lookup := cache.GetExpiry
				if refresh {
					lookup = cache.Refresh
				}
				rec, err := lookup(ctx, index, today)
				if err != nil {
					return err
				}
				records = append(records, rec)
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			table := NewTable(output, "INDEX", "EXPIRY", "TYPE", "DAYS", "FETCHED")
			for _, rec := range records {
				table.AddRow(
					string(rec.Index),
					rec.Date.String(),
					string(rec.Classification),
					fmt.Sprintf("%d", trading.DaysToExpiry(rec, today)),
					rec.FetchedAt.In(utils.IndiaLocation).Format("2006-01-02 15:04"),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Bool("refresh", false, "fetch from the broker even when cached")
	return cmd
}
