package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quicktrade/internal/broker"
	"quicktrade/internal/models"
)

const loginState = "quicktrade"

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, rt *cliState) {
	rootCmd.AddCommand(newLoginCmd(rt))
	rootCmd.AddCommand(newLogoutCmd(rt))
	rootCmd.AddCommand(newAuthStatusCmd(rt))
}

func authenticator(rt *cliState, name string) (broker.Authenticator, error) {
	switch models.BrokerName(strings.ToLower(name)) {
	case models.BrokerZerodha:
		if rt.app.Zerodha == nil {
			return nil, errors.New("Zerodha is not configured, set api_key in credentials.toml")
		}
		return rt.app.Zerodha, nil
	case models.BrokerFyers:
		if rt.app.Fyers == nil {
			return nil, errors.New("Fyers is not configured, set client_id in credentials.toml")
		}
		return rt.app.Fyers, nil
	}
	return nil, fmt.Errorf("unknown broker %q, use zerodha or fyers", name)
}

func newLoginCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <zerodha|fyers>",
		Short: "Log in to a broker",
		Long: `Log in to Zerodha (orders) or Fyers (index prices and expiries).

Opens the broker login page. After logging in, the broker redirects to a
URL carrying request_token (Zerodha) or auth_code (Fyers); paste that value
when prompted, or pass it with --code. With 'quicktrade serve' running the
redirect completes the login on its own.`,
		Example: `  quicktrade login zerodha
  quicktrade login fyers --code <auth_code>`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			auth, err := authenticator(rt, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			force, _ := cmd.Flags().GetBool("force")
			if auth.IsAuthenticated() && !force {
				if err := auth.VerifySession(ctx); err == nil {
					output.Success("Already logged in to %s", auth.Name())
					return nil
				}
				output.Warning("Saved %s session is no longer valid", auth.Name())
			}

			code, _ := cmd.Flags().GetString("code")
			if code == "" {
				loginURL := auth.LoginURL(loginState)
				output.Bold("Login URL:")
				output.Println(loginURL)
				if noBrowser, _ := cmd.Flags().GetBool("no-browser"); !noBrowser {
					if err := openURL(loginURL); err != nil {
						output.Warning("Could not open browser automatically")
					}
				}
				output.Println()
				output.Info("Paste the request_token or auth_code from the redirect URL:")
				if code, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			session, err := auth.CompleteLogin(ctx, code)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"broker":     session.Broker,
					"user_id":    session.UserID,
					"expires_at": session.ExpiresAt,
				})
			}
			output.Success("Logged in to %s as %s", session.Broker, session.UserID)
			output.Dim("Session expires %s", session.ExpiresAt.Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().String("code", "", "request_token or auth_code from the redirect")
	cmd.Flags().Bool("force", false, "log in again even with a valid session")
	cmd.Flags().Bool("no-browser", false, "print the login URL without opening it")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return "", errors.New("no token provided")
	}
	return line, nil
}

// openURL opens the URL in the default browser.
func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

func newLogoutCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "logout [zerodha|fyers]",
		Short: "Clear broker sessions",
		Long:  "Invalidate the session and remove the stored token. Without an argument every configured broker is logged out.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()

			var targets []broker.Authenticator
			if len(args) == 1 {
				auth, err := authenticator(rt, args[0])
				if err != nil {
					return err
				}
				targets = append(targets, auth)
			} else {
				for _, auth := range []broker.Authenticator{rt.app.Zerodha, rt.app.Fyers} {
					if auth != nil {
						targets = append(targets, auth)
					}
				}
			}
			if len(targets) == 0 {
				return errors.New("no broker is configured")
			}

			var done []string
			for _, auth := range targets {
				if err := auth.Logout(ctx); err != nil {
					return err
				}
				done = append(done, auth.Name())
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"logged_out": done})
			}
			output.Success("Logged out of %s", strings.Join(done, ", "))
			return nil
		},
	}
}

func newAuthStatusCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "auth-status",
		Short: "Show broker login state",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			type status struct {
				Broker        models.BrokerName `json:"broker"`
				Configured    bool              `json:"configured"`
				Authenticated bool              `json:"authenticated"`
			}
			result := []status{
				{Broker: models.BrokerZerodha},
				{Broker: models.BrokerFyers},
			}
			for i, auth := range []broker.Authenticator{rt.app.Zerodha, rt.app.Fyers} {
				if auth != nil {
					result[i].Configured = true
					result[i].Authenticated = auth.IsAuthenticated()
				}
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			for _, s := range result {
				state := output.red.Sprint("not logged in")
				switch {
				case !s.Configured:
					state = output.dim.Sprint("not configured")
				case s.Authenticated:
					state = output.green.Sprint("logged in")
				}
				output.Printf("  %-8s %s\n", s.Broker, state)
			}
			output.Dim("Mode: %s", rt.app.Config.Trading.Mode)
			return nil
		},
	}
}
