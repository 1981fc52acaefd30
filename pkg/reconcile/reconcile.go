// Package reconcile turns a completed job's raw output into Variants.
package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// Diagnostic records why one output entry was dropped.
type Diagnostic struct {
	Index  int
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("variant %d dropped: %s", d.Index, d.Reason)
}

// Result is the reconciled view of a completed job.
type Result struct {
	Variants []core.Variant
	Dropped  []Diagnostic

	// NoUsableOutput is set when the job completed but produced nothing
	// presentable. It is not a failure.
	NoUsableOutput bool
}

// Variant returns the variant whose index is i.
func (r Result) Variant(i int) (core.Variant, bool) {
	for _, v := range r.Variants {
		if v.Index() == i {
			return v, true
		}
	}
	return core.Variant{}, false
}

// wireVariant mirrors one generated variant. Pointer fields keep "absent"
// distinct from "present but empty".
type wireVariant struct {
	VariantID  *int     `json:"variant_id"`
	Subject    *string  `json:"subject_line"`
	Preview    *string  `json:"preview_text"`
	HTML       *string  `json:"html_content"`
	Text       *string  `json:"plain_text_content"`
	Confidence *float64 `json:"confidence_score"`
	Reasoning  *string  `json:"reasoning"`
}

// Reconcile parses output into variants. Each variant's index is its position
// in output, whether or not earlier entries were dropped. The function is pure
// and gives the same result for the same input.
func Reconcile(output []json.RawMessage) Result {
	var res Result
	for i, raw := range output {
		v, reason := parse(i, raw)
		if reason != "" {
			res.Dropped = append(res.Dropped, Diagnostic{Index: i, Reason: reason})
			continue
		}
		res.Variants = append(res.Variants, v)
	}
	res.NoUsableOutput = len(res.Variants) == 0
	return res
}

func parse(index int, raw json.RawMessage) (core.Variant, string) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return core.Variant{}, "not an object"
	}
	var w wireVariant
	if err := json.Unmarshal(raw, &w); err != nil {
		return core.Variant{}, "malformed: " + err.Error()
	}
	if w.Subject == nil {
		return core.Variant{}, "missing subject line"
	}
	if strings.TrimSpace(*w.Subject) == "" {
		return core.Variant{}, "blank subject line"
	}

	f := core.VariantFields{
		Subject:     *w.Subject,
		PreviewText: w.Preview,
		HTMLBody:    w.HTML,
		TextBody:    w.Text,
		Reasoning:   w.Reasoning,
		Confidence:  confidence(w.Confidence),
	}
	if w.VariantID != nil {
		f.BackendID = *w.VariantID
	}
	return core.NewVariant(index, f), ""
}

// confidence drops scores that are not a probability.
func confidence(c *float64) *float64 {
	if c == nil || math.IsNaN(*c) || *c < 0 || *c > 1 {
		return nil
	}
	return c
}
