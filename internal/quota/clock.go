package quota

import (
	"fmt"
	"time"
)

// UserWindow is the length of a per-user usage window.
const UserWindow = time.Hour

// NextMonthStart returns midnight on the first day of the month following t,
// in t's location. Moving to day 25 and adding a week always lands in the next
// month regardless of how long the current one is.
func NextMonthStart(t time.Time) time.Time {
	shifted := time.Date(t.Year(), t.Month(), 25, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 7)
	return time.Date(shifted.Year(), shifted.Month(), 1, 0, 0, 0, 0, t.Location())
}

// NextHour returns the end of a usage window opened at t.
func NextHour(t time.Time) time.Time {
	return t.Add(UserWindow)
}

// FormatCooldown renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatCooldown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	hours, secs := secs/3600, secs%3600
	minutes, secs := secs/60, secs%60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// CooldownUntil formats the time left from now until deadline.
func CooldownUntil(deadline, now time.Time) string {
	return FormatCooldown(deadline.Sub(now))
}
