// Package timeutil converts wall-clock timestamps into the minute buckets used
// to aggregate probe outcomes.
//
// All timestamps are Unix milliseconds. A bucket is identified by the number of
// whole minutes since the epoch. LatestFinalizedMinute returns the newest minute
// whose pending verifications have all reached their deadline, leaving one
// extra minute of slack for the validator to record timeouts.
package timeutil
