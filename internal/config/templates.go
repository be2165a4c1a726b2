package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# QuickTrade Configuration

[trading]
# Trading mode: "live" routes orders to Zerodha, "paper" simulates fills
mode = "paper"
# Product type for entries: MIS (intraday) or NRML
product = "MIS"
exchange = "NFO"
order_type = "MARKET"

[server]
addr = "127.0.0.1:8000"
# Public root used for broker login redirects
base_url = "http://127.0.0.1:8000"

[expiry]
# Upper bound for one expiry lookup
fetch_timeout = "10s"
# Cron expressions, evaluated in Asia/Kolkata
warmup_schedule = "0 9 * * 1-5"
sweep_schedule = "30 5 * * *"

[fyers]
base_url = "https://api-t1.fyers.in"
# Requests per second
rate_limit = 5.0
burst = 5
timeout = "10s"
max_retries = 3

# Lot size overrides per index
[lots]
# nifty = 75
# banknifty = 30

[bracket]
# Default GTT exit around each entry, as a percentage of the option price.
# 0 disables the leg.
stop_loss_percent = 0.0
target_percent = 0.0

[log]
level = "info"
console = true
file = true

[storage]
# db_path = "~/.config/quicktrade/quicktrade.db"
# backup_dir = "~/.config/quicktrade/backups"
# Sessions older than this are removed by the daily sweep
session_max_age = "24h"
`

const credentialsTemplate = `# QuickTrade Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""

[fyers]
# App id, ends with -100
client_id = ""
secret_key = ""
redirect_uri = ""
`

func writeTemplate(configDir, name, template string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(template), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}
