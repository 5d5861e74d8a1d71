package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Radar Trader Configuration

[engine]
# Wallet the engine trades for (empty = first active wallet)
wallet_id = ""
# Maximum number of open positions per wallet
max_open_positions = 5
# Minimum available balance before new trades are taken
min_available_balance = 10000.0
# Fraction of balance risked per trade
risk_per_trade = 0.02
# Fraction of balance allocated when no stop loss is known
max_position_fraction = 0.10
# Bracket around entry for alert-driven trades
target_percent = 6.0
stop_percent = 2.0
# "percent" uses the bracket above; "orb" uses the breakout's projected
# levels for RealTime_ORB alerts and the percent bracket otherwise
bracket = "percent"
# Force close trades held longer than this
time_limit = "24h"
# Engine loop interval and back-off after a failed cycle
poll_interval = "30s"
error_backoff = "60s"

[monitor]
interval = "60s"

[scanner]
workers = 8
# Instruments scanned premarket, ranked by average volume
top_instruments = 200
# Alerts kept from a premarket scan
top_alerts = 10
history_periods = 250
min_history = 50
strong_sector_count = 3
watchlist_limit = 50
cycle_timeout = "5m"
index_instrument = "NSE:NIFTY 50"
vix_instrument = "NSE:INDIA VIX"

[orb]
# 5-minute candles forming the opening range (6 = 30 minutes)
opening_candles = 6
min_candles = 12
volume_factor = 1.2
alert_ttl = "45m"
interval = "5min"

[feed]
timeout = "10s"
retry_attempts = 3
initial_delay = "500ms"
max_delay = "5s"
breaker_failures = 5
breaker_timeout = "30s"
# Use a deterministic mock price when the live feed has nothing
fallback_enabled = true
price_cache_ttl = "15s"
rate_limit_per_call = "100ms"
# Streamed prices older than this fall through to the next feed
stream_price_age = "1m"

[store]
# sqlite_path = "~/.config/radar-trader/radar.db"
# Optional shared alert store
postgres_dsn = ""

[redis]
enabled = false
addr = "localhost:6379"
password = ""
db = 0
channel_prefix = "radar:trades"

[schedule]
premarket = "0 9 * * 1-5"
intraday = "@every 1m"
engine = "@every 30s"
monitor = "@every 1m"
end_of_day = "45 15 * * 1-5"
cleanup = "@hourly"

[log]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Radar Trader Credentials
# Keep this file private (chmod 600)

[kite]
api_key = ""
api_secret = ""
# Daily access token from the Kite login flow
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
