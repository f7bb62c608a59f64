package chart

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xhit/go-str2duration/v2"
)

const DefaultTimeframe = "1h"

// timeframes are the candle intervals the chart command accepts
var timeframes = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M"}

// IsTimeframe reports whether tf is a supported candle interval
func IsTimeframe(tf string) bool {
	for _, t := range timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// TimeframeDuration returns the length of one candle
func TimeframeDuration(tf string) (time.Duration, error) {
	if !IsTimeframe(tf) {
		return 0, errors.Errorf("unsupported timeframe %q", tf)
	}
	if tf == "1M" {
		return 30 * 24 * time.Hour, nil
	}
	d, err := str2duration.ParseDuration(tf)
	if err != nil {
		return 0, errors.Wrapf(err, "parse timeframe %q", tf)
	}
	return d, nil
}
