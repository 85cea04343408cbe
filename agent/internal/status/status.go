package status

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"text/tabwriter"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/slaprobe/agent/internal/metrics"
)

// TargetStatus holds the counters scraped for one target.
type TargetStatus struct {
	Target      string
	SentFailed  float64
	Unavailable float64
	Observed    float64
}

// Availability is the share of observed minutes that were available, or NaN
// when nothing has been observed yet.
func (t TargetStatus) Availability() float64 {
	if t.Observed == 0 {
		return math.NaN()
	}
	return 1 - t.Unavailable/t.Observed
}

// Report is the per-target summary of one scrape, sorted by target.
type Report struct {
	Targets []TargetStatus
}

// Fetch scrapes url and summarises the probe counters found there.
func Fetch(ctx context.Context, client *http.Client, url string) (*Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("status: build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}

// Parse summarises a text exposition.
func Parse(r io.Reader) (*Report, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("status: parse prometheus text: %w", err)
	}

	byTarget := make(map[string]*TargetStatus)
	get := func(target string) *TargetStatus {
		ts, ok := byTarget[target]
		if !ok {
			ts = &TargetStatus{Target: target}
			byTarget[target] = ts
		}
		return ts
	}
	for target, v := range valuesByTarget(mfs[metrics.SentFailedName]) {
		get(target).SentFailed = v
	}
	for target, v := range valuesByTarget(mfs[metrics.UnavailableName]) {
		get(target).Unavailable = v
	}
	for target, v := range valuesByTarget(mfs[metrics.ObservedName]) {
		get(target).Observed = v
	}

	rep := &Report{Targets: make([]TargetStatus, 0, len(byTarget))}
	for _, ts := range byTarget {
		rep.Targets = append(rep.Targets, *ts)
	}
	sort.Slice(rep.Targets, func(i, j int) bool { return rep.Targets[i].Target < rep.Targets[j].Target })
	return rep, nil
}

// valuesByTarget sums the samples of mf per value of the "target" label.
// Returns nil if mf is nil (metric not present in the scrape).
func valuesByTarget(mf *dto.MetricFamily) map[string]float64 {
	if mf == nil {
		return nil
	}
	out := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		var target string
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "target" {
				target = lp.GetValue()
			}
		}
		switch {
		case m.Counter != nil:
			out[target] += m.Counter.GetValue()
		case m.Gauge != nil:
			out[target] += m.Gauge.GetValue()
		case m.Untyped != nil:
			out[target] += m.Untyped.GetValue()
		}
	}
	return out
}

// Write renders rep as an aligned table.
func Write(w io.Writer, rep *Report) error {
	if len(rep.Targets) == 0 {
		_, err := fmt.Fprintln(w, "no probe counters found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tOBSERVED\tSENT_FAILED\tUNAVAILABLE\tAVAILABILITY")
	for _, t := range rep.Targets {
		avail := "n/a"
		if a := t.Availability(); !math.IsNaN(a) {
			avail = fmt.Sprintf("%.2f%%", a*100)
		}
		fmt.Fprintf(tw, "%s\t%.0f\t%.0f\t%.0f\t%s\n", t.Target, t.Observed, t.SentFailed, t.Unavailable, avail)
	}
	return tw.Flush()
}
