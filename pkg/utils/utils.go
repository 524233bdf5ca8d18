package utils

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

func ParseIntWithDefault(value string, defaultValue int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn(fmt.Sprintf("ParseIntWithDefault error: %v", err))
		return defaultValue, fmt.Errorf("invalid integer %q", value)
	}
	return result, nil
}

// ParseRange 解析时间范围，如 7d、30d、12h；空串表示不限
func ParseRange(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || value == "all" {
		return 0, nil
	}
	if strings.HasSuffix(value, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
		if err != nil || days < 1 {
			return 0, fmt.Errorf("invalid range %q", value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid range %q", value)
	}
	return d, nil
}
