package core

// Variant is one generated email candidate within a completed job.
// Fields are read-only; the With* methods return derived copies.
type Variant struct {
	index      int
	backendID  int
	subject    string
	preview    *string
	html       *string
	text       *string
	reasoning  *string
	confidence *float64
}

// VariantFields carries the parsed values used to build a Variant.
// Nil pointers mean the field was not generated.
type VariantFields struct {
	BackendID   int
	Subject     string
	PreviewText *string
	HTMLBody    *string
	TextBody    *string
	Reasoning   *string
	Confidence  *float64
}

// NewVariant builds a Variant at a fixed position in the job output.
// A backend id of zero defaults to index+1.
func NewVariant(index int, f VariantFields) Variant {
	v := Variant{
		index:      index,
		backendID:  f.BackendID,
		subject:    f.Subject,
		preview:    cloneString(f.PreviewText),
		html:       cloneString(f.HTMLBody),
		text:       cloneString(f.TextBody),
		reasoning:  cloneString(f.Reasoning),
		confidence: cloneFloat(f.Confidence),
	}
	if v.backendID <= 0 {
		v.backendID = index + 1
	}
	return v
}

// Index is the variant's position in the job's output sequence.
func (v Variant) Index() int { return v.index }

// BackendID is the backend's 1-based variant number, used for template creation.
func (v Variant) BackendID() int { return v.backendID }

// Subject returns the subject line.
func (v Variant) Subject() string { return v.subject }

func (v Variant) PreviewText() (string, bool) { return deref(v.preview) }

func (v Variant) HTMLBody() (string, bool) { return deref(v.html) }

func (v Variant) TextBody() (string, bool) { return deref(v.text) }

func (v Variant) Reasoning() (string, bool) { return deref(v.reasoning) }

// Confidence returns the advisory score in [0,1]; ok is false when unknown.
func (v Variant) Confidence() (float64, bool) {
	if v.confidence == nil {
		return 0, false
	}
	return *v.confidence, true
}

// WithSubject returns a copy with a different subject line.
func (v Variant) WithSubject(s string) Variant {
	v.subject = s
	return v
}

// WithPreviewText returns a copy with different preview text.
func (v Variant) WithPreviewText(s string) Variant {
	v.preview = &s
	return v
}

// WithHTMLBody returns a copy with a different HTML body.
func (v Variant) WithHTMLBody(s string) Variant {
	v.html = &s
	return v
}

// WithTextBody returns a copy with a different plain-text body.
func (v Variant) WithTextBody(s string) Variant {
	v.text = &s
	return v
}

func deref(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	f := *p
	return &f
}
