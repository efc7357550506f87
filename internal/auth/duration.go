package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTTL parses a lifetime such as "7d", "12h" or "30m". Values that carry
// no day unit fall through to time.ParseDuration, so "1h30m" is accepted too.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("auth: empty duration")
	}
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("auth: invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("auth: invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("auth: duration %q must be positive", s)
	}
	return d, nil
}
