package transport

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// apiTime accepts RFC 3339 timestamps as well as the zone-less ISO form the
// platform emits for UTC values.
type apiTime struct {
	time.Time
}

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *apiTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var err error
	for _, layout := range apiTimeLayouts {
		var parsed time.Time
		parsed, err = time.Parse(layout, s)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return err
}

func (t *apiTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// jobResponse is the platform's generation job representation.
type jobResponse struct {
	ID                         string            `json:"id"`
	CampaignID                 string            `json:"campaign_id"`
	Status                     string            `json:"status"`
	JobType                    string            `json:"job_type"`
	GeneratedContent           *generatedContent `json:"generated_content"`
	AIModel                    string            `json:"ai_model"`
	TokensUsed                 int               `json:"tokens_used"`
	EstimatedCompletionSeconds int               `json:"estimated_completion_seconds"`
	ErrorMessage               string            `json:"error_message"`
	CreatedAt                  *apiTime          `json:"created_at"`
	StartedAt                  *apiTime          `json:"started_at"`
	CompletedAt                *apiTime          `json:"completed_at"`
}

type generatedContent struct {
	Variants []json.RawMessage `json:"variants"`
}

type jobListResponse struct {
	Jobs    []jobResponse `json:"jobs"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	Pages   int           `json:"pages"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// kindFromJobType maps the platform's job types onto the three request kinds.
func kindFromJobType(t string) core.JobKind {
	switch t {
	case "refinement", "optimization":
		return core.KindRefine
	case "subject_line_test":
		return core.KindSubjectLines
	case "":
		return ""
	}
	return core.KindGenerate
}

func (r *jobResponse) snapshot() *core.Snapshot {
	s := &core.Snapshot{
		ID:                  r.ID,
		CampaignID:          r.CampaignID,
		Kind:                kindFromJobType(r.JobType),
		Status:              core.JobStatus(r.Status),
		ErrorMessage:        r.ErrorMessage,
		AIModel:             r.AIModel,
		TokensUsed:          r.TokensUsed,
		EstimatedCompletion: time.Duration(r.EstimatedCompletionSeconds) * time.Second,
		StartedAt:           r.StartedAt.ptr(),
		CompletedAt:         r.CompletedAt.ptr(),
	}
	if created := r.CreatedAt.ptr(); created != nil {
		s.CreatedAt = *created
	}
	if r.GeneratedContent != nil {
		s.Output = r.GeneratedContent.Variants
	}
	return s
}

// errorBody covers both {"detail": "..."} and validation error lists.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type validationDetail struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func (b errorBody) text() string {
	if len(b.Detail) > 0 {
		var s string
		if err := json.Unmarshal(b.Detail, &s); err == nil {
			return s
		}
		var details []validationDetail
		if err := json.Unmarshal(b.Detail, &details); err == nil && len(details) > 0 {
			parts := make([]string, 0, len(details))
			for _, d := range details {
				loc := make([]string, 0, len(d.Loc))
				for _, l := range d.Loc {
					if s, ok := l.(string); ok {
						loc = append(loc, s)
					}
				}
				parts = append(parts, strings.Join(loc, ".")+": "+d.Msg)
			}
			return strings.Join(parts, "; ")
		}
		return string(b.Detail)
	}
	return b.Message
}
