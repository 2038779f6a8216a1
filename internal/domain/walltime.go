package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWalltime parses a cluster-style walltime string into a duration.
// Accepted forms: "HH:MM:SS", "MM:SS", or a plain integer number of seconds.
// Hours are unbounded ("72:00:00" is three days).
func ParseWalltime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty walltime")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid walltime %q", s)
	}

	var total int64
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, nil
}

// FormatWalltime renders a duration as "HH:MM:SS", truncating to whole
// seconds.
func FormatWalltime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
