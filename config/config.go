package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("cc_api_key", "CC_API_KEY")
		viper.BindEnv("cc_base_url", "CC_BASE_URL")
		viper.BindEnv("paprika_api_key", "PAPRIKA_API_KEY")
		viper.BindEnv("binance_api_key", "BINANCE_API_KEY")
		viper.BindEnv("binance_secret_key", "BINANCE_SECRET_KEY")
		viper.BindEnv("ratelimit_count", "RATELIMIT_COUNT")
		viper.BindEnv("ratelimit_period", "RATELIMIT_PERIOD")
		viper.BindEnv("ratelimit_max_wait", "RATELIMIT_MAX_WAIT")
		viper.BindEnv("ratelimit_blocking", "RATELIMIT_BLOCKING")
		viper.BindEnv("retry_total", "RETRY_TOTAL")
		viper.BindEnv("retry_backoff", "RETRY_BACKOFF")
		viper.BindEnv("retry_backoff_max", "RETRY_BACKOFF_MAX")
		viper.BindEnv("http_timeout", "HTTP_TIMEOUT")
		viper.BindEnv("catalog_pages", "CATALOG_PAGES")
		viper.BindEnv("catalog_page_delay", "CATALOG_PAGE_DELAY")
		viper.BindEnv("catalog_refresh", "CATALOG_REFRESH")
		viper.BindEnv("price_ttl", "PRICE_TTL")
		viper.BindEnv("price_stale_grace", "PRICE_STALE_GRACE")
		viper.BindEnv("chart_tolerance", "CHART_TOLERANCE")
		viper.BindEnv("alert_interval", "ALERT_INTERVAL")
		viper.BindEnv("store_driver", "STORE_DRIVER")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("default_coin", "DEFAULT_COIN")
		viper.BindEnv("default_fiat", "DEFAULT_FIAT")
		viper.BindEnv("tsyms", "TSYMS")
		viper.BindEnv("top_count", "TOP_COUNT")
		viper.BindEnv("top_ttl", "TOP_TTL")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("log_file", "LOG_FILE")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("cc_base_url", "https://min-api.cryptocompare.com")
		viper.SetDefault("ratelimit_count", 10)
		// RATELIMIT_PERIOD is given in seconds
		viper.SetDefault("ratelimit_period", 300)
		viper.SetDefault("ratelimit_max_wait", "30s")
		viper.SetDefault("ratelimit_blocking", true)
		viper.SetDefault("retry_total", 5)
		viper.SetDefault("retry_backoff", "100ms")
		viper.SetDefault("retry_backoff_max", "10s")
		viper.SetDefault("http_timeout", "10s")
		viper.SetDefault("catalog_pages", 10)
		viper.SetDefault("catalog_page_delay", "300ms")
		viper.SetDefault("catalog_refresh", "24h")
		viper.SetDefault("price_ttl", "10s")
		viper.SetDefault("price_stale_grace", "1h")
		viper.SetDefault("chart_tolerance", "5m")
		viper.SetDefault("alert_interval", "60s")
		viper.SetDefault("store_driver", "sqlite")
		viper.SetDefault("db_path", "/app/data/bot.db")
		viper.SetDefault("default_coin", "BTC")
		viper.SetDefault("default_fiat", "USD")
		viper.SetDefault("tsyms", "USD,EUR,GBP,JPY,KRW,RUB,BTC,ETH,USDT")
		viper.SetDefault("top_count", 30)
		viper.SetDefault("top_ttl", "3m")
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("log_file", "")
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	InitConfig()
	return viper.GetDuration(key)
}

// GetSeconds reads a duration given as a bare number of seconds, falling back
// to duration syntax ("5m") when the value is not a number
func GetSeconds(key string) time.Duration {
	InitConfig()
	if n := viper.GetInt(key); n > 0 {
		return time.Duration(n) * time.Second
	}
	return viper.GetDuration(key)
}

// GetSymbols reads a comma separated list of tickers, upper-cased
func GetSymbols(key string) []string {
	InitConfig()
	var out []string
	for _, s := range strings.Split(viper.GetString(key), ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
