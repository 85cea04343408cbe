// Package record defines the three persisted record types of the probe
// pipeline and the store keys they live under.
//
//   - SubmissionRecord: audit trail of one submit or probe attempt
//   - PendingVerification: a submitted transaction awaiting confirmation
//   - OutcomeBucket: per-target, per-minute outcome counters
//
// Keys embed the target id, so target ids and tenants must not contain "/"
// (config validation enforces this). Counters saturate instead of wrapping.
package record
