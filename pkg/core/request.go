package core

import "strings"

// Tone of the generated email.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneFormal       Tone = "formal"
	ToneCasual       Tone = "casual"
	ToneUrgent       Tone = "urgent"
	ToneEnthusiastic Tone = "enthusiastic"
)

// Length of the generated email.
type Length string

const (
	LengthShort  Length = "short"  // ~100-150 words
	LengthMedium Length = "medium" // ~200-300 words
	LengthLong   Length = "long"   // ~400-500 words
)

// Personalization controls how targeted the content is.
type Personalization string

const (
	PersonalizationLow    Personalization = "low"
	PersonalizationMedium Personalization = "medium"
	PersonalizationHigh   Personalization = "high"
)

// Options holds the generation knobs sent with generation and refinement requests.
type Options struct {
	Tone               Tone            `json:"tone" validate:"required,oneof=professional friendly formal casual urgent enthusiastic"`
	Length             Length          `json:"length" validate:"required,oneof=short medium long"`
	IncludeCTA         bool            `json:"include_cta"`
	CTAText            string          `json:"cta_text,omitempty" validate:"max=100"`
	Personalization    Personalization `json:"personalization_level" validate:"required,oneof=low medium high"`
	VariantsCount      int             `json:"variants_count" validate:"min=1,max=5"`
	IncludePreviewText bool            `json:"include_preview_text"`
	Temperature        float64         `json:"temperature" validate:"gte=0,lte=1"`
	FocusAreas         []string        `json:"focus_areas,omitempty" validate:"max=10,dive,required,max=100"`
}

// DefaultOptions returns the backend's default generation options.
func DefaultOptions() Options {
	return Options{
		Tone:               ToneProfessional,
		Length:             LengthMedium,
		IncludeCTA:         true,
		Personalization:    PersonalizationHigh,
		VariantsCount:      1,
		IncludePreviewText: true,
		Temperature:        0.7,
	}
}

// GenerationRequest asks for new email content for a campaign.
type GenerationRequest struct {
	Prompt          string         `json:"user_prompt" validate:"required,min=10,max=2000"`
	Options         Options        `json:"generation_options"`
	ContextOverride map[string]any `json:"context_override,omitempty"`
}

// RefinementRequest asks for a revision of an existing template.
type RefinementRequest struct {
	TemplateID   string   `json:"template_id" validate:"required"`
	Instructions string   `json:"refinement_instructions" validate:"required,min=10,max=1000"`
	Sections     []string `json:"sections_to_change,omitempty"`
	Options      *Options `json:"generation_options,omitempty"`
}

// SubjectLineRequest asks for subject line variants for A/B testing.
type SubjectLineRequest struct {
	TemplateID   string `json:"template_id,omitempty"`
	EmailContent string `json:"email_content,omitempty" validate:"required_without=TemplateID"`
	Count        int    `json:"count" validate:"min=1,max=10"`
	Style        string `json:"style,omitempty" validate:"max=50"`
}

// Request is one user-triggered submission. The payload matching Kind must be set.
type Request struct {
	Kind        JobKind
	SubmittedBy string
	// Regenerate routes a generation through the regenerate endpoint, which
	// bumps the campaign's iteration count.
	Regenerate   bool
	Generation   *GenerationRequest
	Refinement   *RefinementRequest
	SubjectLines *SubjectLineRequest
}

// Key identifies the logical request for duplicate-submission checks.
// Refinements of different templates are distinct requests. A refinement
// whose template is unknown has no key.
func (r Request) Key(campaignID string) string {
	parts := []string{campaignID, string(r.Kind)}
	if r.Kind == KindRefine {
		if r.Refinement == nil {
			return ""
		}
		parts = append(parts, r.Refinement.TemplateID)
	}
	return strings.Join(parts, "/")
}

func (r Request) clone() Request {
	c := r
	if r.Generation != nil {
		g := *r.Generation
		g.Options.FocusAreas = append([]string(nil), r.Generation.Options.FocusAreas...)
		if r.Generation.ContextOverride != nil {
			g.ContextOverride = make(map[string]any, len(r.Generation.ContextOverride))
			for k, v := range r.Generation.ContextOverride {
				g.ContextOverride[k] = v
			}
		}
		c.Generation = &g
	}
	if r.Refinement != nil {
		rf := *r.Refinement
		rf.Sections = append([]string(nil), r.Refinement.Sections...)
		if r.Refinement.Options != nil {
			o := *r.Refinement.Options
			o.FocusAreas = append([]string(nil), r.Refinement.Options.FocusAreas...)
			rf.Options = &o
		}
		c.Refinement = &rf
	}
	if r.SubjectLines != nil {
		s := *r.SubjectLines
		c.SubjectLines = &s
	}
	return c
}
