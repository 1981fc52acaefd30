// Package genjobs tracks asynchronous AI content generation jobs for email
// campaigns.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	client := genjobs.NewClient("https://api.example.com/api/v1",
//	    genjobs.WithTokenSource(genjobs.NewRefreshingTokenSource(baseURL, creds)))
//	ctrl := genjobs.New(client)
//	defer ctrl.Close()
//
//	jobID, err := ctrl.Submit(ctx, campaignID, genjobs.Request{
//	    Kind: genjobs.KindGenerate,
//	    Generation: &genjobs.GenerationRequest{
//	        Prompt:  "Announce the spring sale to returning customers",
//	        Options: genjobs.DefaultOptions(),
//	    },
//	})
//
//	unsubscribe, err := ctrl.Subscribe(ctx, jobID, func(job *genjobs.Job) {
//	    if job.Status == genjobs.StatusCompleted {
//	        result, _ := ctrl.GetVariants(ctx, job.ID)
//	        render(result.Variants)
//	    }
//	})
package genjobs

import (
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/jdziat/campaign-genjobs/pkg/controller"
	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/poller"
	"github.com/jdziat/campaign-genjobs/pkg/reconcile"
	"github.com/jdziat/campaign-genjobs/pkg/repository"
	"github.com/jdziat/campaign-genjobs/pkg/transport"
)

type (
	// Job is the last-known state of one generation job.
	Job = core.Job

	// JobStatus is a job's lifecycle state.
	JobStatus = core.JobStatus

	// JobKind identifies what a job generates.
	JobKind = core.JobKind

	// Failure is the diagnostic of a failed job.
	Failure = core.Failure

	// Request is one user-triggered submission.
	Request = core.Request

	GenerationRequest  = core.GenerationRequest
	RefinementRequest  = core.RefinementRequest
	SubjectLineRequest = core.SubjectLineRequest

	// Options are the generation knobs.
	Options = core.Options

	// Variant is one reconciled piece of generated content.
	Variant = core.Variant

	// Result is the reconciled output of a completed job.
	Result = reconcile.Result

	// Transport is the request/response layer to the platform API.
	Transport = core.Transport

	// Repository stores last-known job state.
	Repository = core.Repository

	// TransportError is a typed transport failure.
	TransportError = core.TransportError

	// Controller submits, tracks and cancels jobs.
	Controller = controller.Controller

	// ControllerOption configures a Controller.
	ControllerOption = controller.Option

	// UpdateFunc receives job updates from a subscription.
	UpdateFunc = controller.UpdateFunc

	// RetryConfig bounds consecutive failed status checks.
	RetryConfig = poller.RetryConfig

	// Client is the HTTP transport for the platform API.
	Client = transport.Client

	// ClientOption configures a Client.
	ClientOption = transport.Option

	// Credentials is an access/refresh token pair.
	Credentials = transport.Credentials

	// Event is the interface for all job lifecycle events.
	Event            = core.Event
	JobSubmitted     = core.JobSubmitted
	JobStatusChanged = core.JobStatusChanged
	JobCompleted     = core.JobCompleted
	JobFailed        = core.JobFailed
	JobCancelled     = core.JobCancelled
	PollRetrying     = core.PollRetrying
)

// Status constants
const (
	StatusSubmitting = core.StatusSubmitting
	StatusPending    = core.StatusPending
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusCancelled  = core.StatusCancelled
)

// Kind constants
const (
	KindGenerate     = core.KindGenerate
	KindRefine       = core.KindRefine
	KindSubjectLines = core.KindSubjectLines
)

// Error variables
var (
	ErrInvalidRequest     = core.ErrInvalidRequest
	ErrSubmissionInFlight = core.ErrSubmissionInFlight
	ErrJobNotFound        = core.ErrJobNotFound
	ErrJobNotCompleted    = core.ErrJobNotCompleted
	ErrVariantNotFound    = core.ErrVariantNotFound
	ErrControllerClosed   = core.ErrControllerClosed
)

// New creates a Controller using t.
func New(t Transport, opts ...ControllerOption) *Controller {
	return controller.New(t, opts...)
}

// NewClient creates a Client for the API at baseURL, for example
// "https://api.example.com/api/v1".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	return transport.New(baseURL, opts...)
}

// NewRefreshingTokenSource creates a token source that renews the access token
// through the platform's refresh endpoint.
func NewRefreshingTokenSource(baseURL string, creds Credentials) *transport.RefreshingTokenSource {
	return transport.NewRefreshingTokenSource(baseURL, creds)
}

// NewMemoryRepository creates a process-local job repository.
func NewMemoryRepository() Repository {
	return repository.NewMemoryRepository()
}

// NewGormRepository creates a repository backed by db. Call Migrate before use.
func NewGormRepository(db *gorm.DB) Repository {
	return repository.NewGormRepository(db)
}

// DefaultOptions returns the backend's default generation options.
func DefaultOptions() Options {
	return core.DefaultOptions()
}

// Reconcile turns raw job output into variants.
func Reconcile(output []json.RawMessage) Result {
	return reconcile.Reconcile(output)
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	return core.IsRetryable(err)
}

// Controller option functions

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) ControllerOption {
	return controller.WithPollInterval(d)
}

// WithRetry sets how many consecutive failed checks are tolerated.
func WithRetry(cfg RetryConfig) ControllerOption {
	return controller.WithRetry(cfg)
}

// WithRepository sets where job state is stored.
func WithRepository(r Repository) ControllerOption {
	return controller.WithRepository(r)
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return controller.WithLogger(l)
}

// Client option functions

// WithTokenSource sets the bearer token source used by a Client.
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return transport.WithTokenSource(ts)
}

// WithUserAgent sets the User-Agent of a Client.
func WithUserAgent(ua string) ClientOption {
	return transport.WithUserAgent(ua)
}
