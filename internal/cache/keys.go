package cache

import (
	"fmt"

	"github.com/google/uuid"
)

const progressChannelPrefix = "progress:"

// StatusKey is the key polled by clients. The status id is used as-is so
// existing dashboards can read it directly.
func StatusKey(statusID string) string {
	return statusID
}

func ResultKey(jobID uuid.UUID) string {
	return fmt.Sprintf("scan-result:%s", jobID)
}

func ProgressChannel(statusID string) string {
	return progressChannelPrefix + statusID
}

// ProgressPattern matches every progress channel.
func ProgressPattern() string {
	return progressChannelPrefix + "*"
}

// StatusIDFromChannel reverses ProgressChannel.
func StatusIDFromChannel(channel string) (string, bool) {
	if len(channel) <= len(progressChannelPrefix) || channel[:len(progressChannelPrefix)] != progressChannelPrefix {
		return "", false
	}
	return channel[len(progressChannelPrefix):], true
}

func RateLimitKey(keyPrefix, userID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
}
