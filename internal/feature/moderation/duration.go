package moderation

import (
	"strconv"
	"strings"
	"time"

	"tg_group_guard_bot/internal/domain"
)

const muteUsage = "/mute <user_id> [30m|2h|1d] or reply with /mute [duration]"

// maxMuteDuration is the longest restriction Telegram applies as given. Longer
// ones are treated as permanent by the platform.
const maxMuteDuration = 366 * 24 * time.Hour

// ParseDuration parses `<integer><unit>` where unit is m, h or d, up to 366d.
func ParseDuration(token string) (time.Duration, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if len(token) < 2 {
		return 0, domain.NewUsageError(muteUsage, "invalid duration "+strconv.Quote(token))
	}

	var unit time.Duration
	switch token[len(token)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, domain.NewUsageError(muteUsage, "duration needs a unit of m, h or d")
	}

	value, err := strconv.Atoi(token[:len(token)-1])
	if err != nil || value <= 0 {
		return 0, domain.NewUsageError(muteUsage, "duration must be a positive integer")
	}
	if value > int(maxMuteDuration/unit) {
		return 0, domain.NewUsageError(muteUsage, "duration must be at most 366d")
	}

	return time.Duration(value) * unit, nil
}
