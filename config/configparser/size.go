package configparser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a byte count with an optional b/s/k/K/m/M suffix
// (main/util.c getsize): "b" bytes, "s" 512-byte sectors, "k"/"K"
// kibibytes, "m"/"M" mebibytes, no suffix meaning bytes.
func ParseSize(s string) (uint64, error) {
	suffix := ""
	digits := s
	if n := len(s); n > 0 {
		last := s[n-1]
		if last < '0' || last > '9' {
			suffix = s[n-1:]
			digits = s[:n-1]
		}
	}
	value, err := strconv.ParseUint(strings.TrimSpace(digits), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	switch suffix {
	case "", "b":
		return value, nil
	case "s":
		return value * 512, nil
	case "k", "K":
		return value * 1024, nil
	case "m", "M":
		return value * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("invalid size suffix in %q", s)
	}
}
