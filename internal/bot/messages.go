package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/aiox-platform/chatbot/internal/quota"
)

// emptyReply replaces a blank completion.
const emptyReply = "😶"

var helpText = strings.Join([]string{
	"👋 I am a conversational bot and you can chat with me in private only.",
	"Send /clear and I will forget our conversation.",
	"Send /quota to see how much of your hourly quota is left.",
}, "\n")

const (
	msgCleared     = "I forgot everything we talked about."
	msgInternalErr = "Something went wrong, please try again later."
)

func rateLimitedText(wait string) string {
	return "I'm being rate-limited, try again in " + wait
}

func globalQuotaText(wait string) string {
	return "Monthly quota exhausted, try again in " + wait
}

func userQuotaText(wait string) string {
	return "You reached your hourly quota, try again in " + wait
}

func quotaStatusText(status *quota.UserStatus, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tokens: %s\n", usageLine(status.Tokens, status.TokensLimit))
	fmt.Fprintf(&b, "Queries: %s\n", usageLine(status.Queries, status.QueriesLimit))
	if status.EndsAt != nil {
		fmt.Fprintf(&b, "Window resets in %s", quota.CooldownUntil(*status.EndsAt, now))
	} else {
		b.WriteString("No usage in the current window")
	}
	return b.String()
}

func usageLine(used, limit int64) string {
	if limit <= 0 {
		return fmt.Sprintf("%d (unlimited)", used)
	}
	return fmt.Sprintf("%d / %d", used, limit)
}
