package util

import (
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses duration string, supports 'd' (day) suffix
// ParseDuration 解析时间字符串，支持 'd' (天) 后缀
// A bare number is read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if _, err := strconv.Atoi(s); err == nil {
		s += "s"
	}
	return time.ParseDuration(s)
}

// DurationOr parses s, returning def when s is empty or malformed
// DurationOr 解析 s，为空或格式错误时返回 def
func DurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
