// Package security provides validation, sanitization, and limits for the genjobs package.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxIDLength is the maximum length for campaign, job and template identifiers
	MaxIDLength = 255

	// MaxPollRetries is the hard limit for consecutive poll failures tolerated
	MaxPollRetries = 20

	// MinPollInterval is the shortest allowed delay between status checks
	MinPollInterval = 50 * time.Millisecond

	// MaxPollInterval is the longest allowed delay between status checks
	MaxPollInterval = 5 * time.Minute

	// MaxErrorMessageLength is the maximum length for stored diagnostics
	MaxErrorMessageLength = 4096
)

// ErrInvalidID is returned for identifiers that are empty, too long, or unsafe in a URL path.
var ErrInvalidID = errors.New("genjobs: invalid identifier")

// validID matches alphanumeric, hyphens, underscores, and dots
var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateID validates an identifier used in API paths.
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength || !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateRequest checks that the payload matching the request kind is present
// and within the backend's bounds.
func ValidateRequest(req core.Request) error {
	var payload any
	switch req.Kind {
	case core.KindGenerate:
		if req.Generation == nil {
			return fmt.Errorf("%w: generation payload required", core.ErrInvalidRequest)
		}
		payload = req.Generation
	case core.KindRefine:
		if req.Refinement == nil {
			return fmt.Errorf("%w: refinement payload required", core.ErrInvalidRequest)
		}
		if err := ValidateID(req.Refinement.TemplateID); err != nil {
			return fmt.Errorf("%w: template id: %v", core.ErrInvalidRequest, err)
		}
		payload = req.Refinement
	case core.KindSubjectLines:
		if req.SubjectLines == nil {
			return fmt.Errorf("%w: subject line payload required", core.ErrInvalidRequest)
		}
		if id := req.SubjectLines.TemplateID; id != "" {
			if err := ValidateID(id); err != nil {
				return fmt.Errorf("%w: template id: %v", core.ErrInvalidRequest, err)
			}
		}
		payload = req.SubjectLines
	default:
		return fmt.Errorf("%w: unknown job kind %q", core.ErrInvalidRequest, req.Kind)
	}

	if err := validatorInstance().Struct(payload); err != nil {
		return fmt.Errorf("%w: %s", core.ErrInvalidRequest, describe(err))
	}
	return nil
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()+": "+rule)
	}
	return strings.Join(parts, ", ")
}

// SanitizeErrorMessage truncates and sanitizes diagnostics before they are stored
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampPollRetries ensures the consecutive failure bound is within limits
func ClampPollRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxPollRetries {
		return MaxPollRetries
	}
	return n
}

// ClampPollInterval ensures the poll interval is within limits
func ClampPollInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}
