package timeutil

import "time"

const msPerMinute = int64(time.Minute / time.Millisecond)

// UnixMilli returns t as Unix milliseconds.
func UnixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// MinuteOf returns the minute bucket containing the millisecond timestamp ms.
// Negative timestamps round towards negative infinity so buckets stay contiguous.
func MinuteOf(ms int64) int64 {
	if ms < 0 {
		return (ms - msPerMinute + 1) / msPerMinute
	}
	return ms / msPerMinute
}

// LatestFinalizedMinute returns the newest minute bucket that can no longer
// receive outcome updates at nowMs, given the verification timeout.
//
// Every transaction sent during or before the returned minute has been pending
// for longer than timeout by nowMs.
func LatestFinalizedMinute(nowMs int64, timeout time.Duration) int64 {
	return MinuteOf(nowMs-timeout.Milliseconds()) - 1
}

// Readable renders a minute bucket as a UTC timestamp for log lines.
func Readable(minute int64) string {
	return time.UnixMilli(minute * msPerMinute).UTC().Format("2006-01-02 15:04")
}
