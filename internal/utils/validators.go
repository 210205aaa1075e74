package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseDuration parses a positive duration. Bare numbers are minutes, and
// "2 hours"/"30 minutes" style phrases are accepted alongside Go durations.
func ParseDuration(durationStr string) (time.Duration, error) {
	durationStr = strings.ToLower(strings.TrimSpace(durationStr))
	if durationStr == "" {
		return 0, fmt.Errorf("duration cannot be empty")
	}

	d, err := parseDuration(durationStr)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", durationStr)
	}
	return d, nil
}

func parseDuration(durationStr string) (time.Duration, error) {
	if val, err := strconv.Atoi(durationStr); err == nil {
		return time.Duration(val) * time.Minute, nil
	}

	if duration, err := time.ParseDuration(durationStr); err == nil {
		return duration, nil
	}

	parts := strings.Fields(durationStr)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid duration format: %s", durationStr)
	}

	val, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", parts[0])
	}

	unit := parts[1]
	switch {
	case strings.HasPrefix(unit, "second"):
		return time.Duration(val) * time.Second, nil
	case strings.HasPrefix(unit, "minute"):
		return time.Duration(val) * time.Minute, nil
	case strings.HasPrefix(unit, "hour"):
		return time.Duration(val) * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration unit: %s", unit)
	}
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// ValidateProjectName checks a --project value before it becomes an EC2 tag
// filter. Wildcard characters are allowed and matched literally.
func ValidateProjectName(project string) error {
	if project == "" {
		return nil
	}
	if strings.TrimSpace(project) == "" {
		return fmt.Errorf("project name cannot be blank")
	}
	if len(project) > 256 {
		return fmt.Errorf("project name exceeds 256 characters")
	}
	for _, r := range project {
		if unicode.IsControl(r) {
			return fmt.Errorf("project name contains control characters")
		}
	}
	return nil
}
