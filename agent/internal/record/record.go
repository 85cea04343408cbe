package record

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// Attempt kinds stored in SubmissionRecord.Kind.
const (
	KindSend  = "send"
	KindProbe = "probe"
)

// SubmissionRecord is the audit entry for one request to the remote service.
// It is written once and never read back by the pipeline.
type SubmissionRecord struct {
	// Timestamp is the attempt time in Unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Tenant    string `json:"user_code,omitempty"`
	API       string `json:"api"`
	Data      string `json:"data,omitempty"`

	// Resp is the raw decoded response body, if any.
	Resp json.RawMessage `json:"resp,omitempty"`

	// Status is the service-level code from the response, 0 when the request
	// or its decoding failed.
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Key returns the store key of r.
func (r SubmissionRecord) Key() string {
	return fmt.Sprintf("%013d/%s/%s", r.Timestamp, r.Target, r.RequestID)
}

// PendingVerification is a submitted transaction that has been neither
// confirmed nor declared timed out.
type PendingVerification struct {
	// Handle is the transaction hash assigned by the remote service.
	Handle string `json:"tx_hash"`
	Target string `json:"chain_name"`
	Tenant string `json:"user_code"`
	// SentAt is the submission time in Unix milliseconds.
	SentAt int64 `json:"sent_timestamp"`
}

// Key returns the store key of p. The send timestamp disambiguates handles
// the remote service reuses.
func (p PendingVerification) Key() string {
	return fmt.Sprintf("%s/%s/%013d/%s", p.Target, p.Tenant, p.SentAt, p.Handle)
}

// OutcomeBucket aggregates the outcomes of every submission a target made
// during one minute.
type OutcomeBucket struct {
	Target string `json:"target"`
	// Minute is the bucket id: whole minutes since the Unix epoch.
	Minute     int64  `json:"timestamp"`
	Sent       uint32 `json:"sent_num"`
	SentFailed uint32 `json:"sent_failed_num"`
	TimedOut   uint32 `json:"failed_num"`
	Confirmed  uint32 `json:"succeed_num"`

	// Forwarded is set once the bucket has been handed to the metrics stage.
	Forwarded bool `json:"forwarded"`
}

// NewBucket returns an empty bucket for target and minute.
func NewBucket(target string, minute int64) OutcomeBucket {
	return OutcomeBucket{Target: target, Minute: minute}
}

// Key returns the store key of b.
func (b OutcomeBucket) Key() string {
	return BucketKey(b.Target, b.Minute)
}

// BucketKey returns the store key of the bucket for target and minute.
func BucketKey(target string, minute int64) string {
	return fmt.Sprintf("%s/%012d", target, minute)
}

func (b *OutcomeBucket) AddSent()       { satInc(&b.Sent) }
func (b *OutcomeBucket) AddSentFailed() { satInc(&b.SentFailed) }
func (b *OutcomeBucket) AddTimedOut()   { satInc(&b.TimedOut) }
func (b *OutcomeBucket) AddConfirmed()  { satInc(&b.Confirmed) }

func satInc(c *uint32) {
	if *c < math.MaxUint32 {
		*c++
	}
}

// Availability is the verdict a finalized bucket contributes to the metrics.
type Availability int

const (
	Available Availability = iota
	// Unavailable means at least one verification timed out.
	Unavailable
	// SentFailed means at least one submission failed. It takes precedence
	// over Unavailable, so a minute is never counted twice.
	SentFailed
)

func (a Availability) String() string {
	switch a {
	case SentFailed:
		return "sent_failed"
	case Unavailable:
		return "unavailable"
	default:
		return "available"
	}
}

// Classify returns the availability verdict of b.
func (b OutcomeBucket) Classify() Availability {
	switch {
	case b.SentFailed > 0:
		return SentFailed
	case b.TimedOut > 0:
		return Unavailable
	default:
		return Available
	}
}
