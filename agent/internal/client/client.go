package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
)

// CodeOK is the service-level code of an accepted submission or a confirmed
// transaction.
const CodeOK = 200

// Headers understood by the remote service.
const (
	HeaderRequestKey = "request_key"
	HeaderUserCode   = "user_code"
	HeaderRequestID  = "X-Request-ID"
)

// handlePlaceholder in a probe URL is replaced with the transaction handle.
const handlePlaceholder = "{hash}"

// submitResponse is the body returned by a submission endpoint.
type submitResponse struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Hash string `json:"hash"`
	} `json:"data"`
}

// probeResponse is the body returned by a status endpoint. Only code is
// required; data is kept opaque for the audit record.
type probeResponse struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client sends submissions and status probes for one target.
type Client struct {
	rc *resty.Client
}

// New builds a Client for tgt. timeout bounds each round trip and
// connectTimeout bounds the TCP dial.
func New(tgt config.Target, timeout, connectTimeout time.Duration) (*Client, error) {
	hc, err := buildHTTPClient(tgt, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("client %q: build http client: %w", tgt.ID, err)
	}
	rc := resty.NewWithClient(hc)
	rc.SetTimeout(timeout)
	rc.SetRetryCount(0)
	return &Client{rc: rc}, nil
}

// SubmitRequest is one submission of a target's payload.
type SubmitRequest struct {
	URL       string
	Payload   string
	Tenant    string
	SentAt    int64 // Unix ms, sent as request_key
	RequestID string
}

// SubmitResult is the decoded outcome of a submission. Raw is kept for the
// audit record even when the submission failed.
type SubmitResult struct {
	Code   int
	Handle string
	Raw    []byte
}

// Submit POSTs the payload. A nil error means the service accepted the
// transaction and Handle is non-empty.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderRequestKey, strconv.FormatInt(req.SentAt, 10)).
		SetHeader(HeaderUserCode, req.Tenant).
		SetHeader(HeaderRequestID, req.RequestID).
		SetBody(req.Payload).
		Post(req.URL)
	if err != nil {
		return nil, &RequestError{Op: "submit", URL: req.URL, Message: "request failed", Cause: err}
	}

	res := &SubmitResult{Raw: resp.Body()}
	if !isSuccess(resp.StatusCode()) {
		return res, &RequestError{Op: "submit", URL: req.URL, StatusCode: resp.StatusCode(), Message: "unexpected http status"}
	}

	var body submitResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return res, &RequestError{Op: "submit", URL: req.URL, StatusCode: resp.StatusCode(), Message: "decode response", Decode: true, Cause: err}
	}
	if body.Code == nil {
		return res, &RequestError{Op: "submit", URL: req.URL, StatusCode: resp.StatusCode(), Message: "response has no code field", Decode: true}
	}
	res.Code = *body.Code
	if res.Code != CodeOK {
		return res, &RequestError{Op: "submit", URL: req.URL, StatusCode: resp.StatusCode(), Code: res.Code, Message: body.Message}
	}
	if body.Data == nil || strings.TrimSpace(body.Data.Hash) == "" {
		return res, &RequestError{Op: "submit", URL: req.URL, StatusCode: resp.StatusCode(), Code: res.Code, Message: "response has no transaction hash", Decode: true}
	}
	res.Handle = strings.TrimSpace(body.Data.Hash)
	return res, nil
}

// ProbeRequest asks for the status of one pending transaction.
type ProbeRequest struct {
	URL    string
	Handle string
	Tenant string
	SentAt int64 // Unix ms of the original submission, sent as request_key
}

// ProbeResult is the decoded outcome of a probe.
type ProbeResult struct {
	Code      int
	Confirmed bool
	Raw       []byte
}

// Probe GETs the status endpoint. A nil error with Confirmed false means the
// transaction is known but not yet confirmed.
func (c *Client) Probe(ctx context.Context, req ProbeRequest) (*ProbeResult, error) {
	target := ProbeURL(req.URL, req.Handle)
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader(HeaderRequestKey, strconv.FormatInt(req.SentAt, 10)).
		SetHeader(HeaderUserCode, req.Tenant).
		Get(target)
	if err != nil {
		return nil, &RequestError{Op: "probe", URL: target, Message: "request failed", Cause: err}
	}

	res := &ProbeResult{Raw: resp.Body()}
	if !isSuccess(resp.StatusCode()) {
		return res, &RequestError{Op: "probe", URL: target, StatusCode: resp.StatusCode(), Message: "unexpected http status"}
	}

	var body probeResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return res, &RequestError{Op: "probe", URL: target, StatusCode: resp.StatusCode(), Message: "decode response", Decode: true, Cause: err}
	}
	if body.Code == nil {
		return res, &RequestError{Op: "probe", URL: target, StatusCode: resp.StatusCode(), Message: "response has no code field", Decode: true}
	}
	res.Code = *body.Code
	res.Confirmed = res.Code == CodeOK
	return res, nil
}

// ProbeURL substitutes the path-escaped handle into a "{hash}" placeholder.
// URLs without the placeholder are returned unchanged; the handle then
// travels only in headers.
func ProbeURL(base, handle string) string {
	return strings.ReplaceAll(base, handlePlaceholder, url.PathEscape(handle))
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
