// Package probe runs the verification pipeline: the Sender submits one
// synthetic transaction per target per tick, the Validator resolves pending
// transactions by probing or timing them out, and the Aggregator keeps the
// per-minute outcome buckets and forwards finalized ones to the metrics stage.
//
// Sender and Validator share one goroutine (see Runner), so the
// read-modify-write sequences on outcome buckets never interleave.
package probe
