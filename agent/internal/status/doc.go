// Package status reads a running probe's /metrics endpoint and summarises the
// per-target counters for operators.
package status
