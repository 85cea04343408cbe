// Package client talks to the remote service under test.
//
// Client.Submit POSTs a target's payload and returns the transaction handle
// from a {code, data: {hash}} response. Client.Probe GETs the status endpoint
// for one handle and reports whether the transaction is confirmed.
//
// Responses are decoded into typed schemas; a body that is not JSON, or that
// lacks the required "code" field, yields a RequestError with Decode set.
// Transport failures, non-2xx HTTP statuses and non-200 service codes are all
// reported as RequestError so callers can log them uniformly; none of them is
// fatal to the pipeline.
//
// Authentication (mTLS, API key, bearer token, basic) is injected by the
// authRoundTripper in transport.go, one *http.Client per target.
package client
