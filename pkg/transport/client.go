package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/security"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 64 << 10

// Client calls the platform REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	userAgent  string
	logger     *slog.Logger
}

var _ core.Transport = (*Client)(nil)

// Option configures a Client.
type Option interface {
	applyClient(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) applyClient(c *Client) { f(c) }

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return optionFunc(func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	})
}

// WithTokenSource sets where bearer tokens come from. Without one, requests
// are sent unauthenticated.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return optionFunc(func(c *Client) {
		c.tokens = ts
	})
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return optionFunc(func(c *Client) {
		c.userAgent = ua
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Client) {
		if l != nil {
			c.logger = l
		}
	})
}

// New creates a client for the API rooted at baseURL, for example
// "https://app.example.com/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "genjobs",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt.applyClient(c)
	}
	return c
}

// SubmitGeneration starts a generation job. Regenerate routes the request
// through the regenerate endpoint.
func (c *Client) SubmitGeneration(ctx context.Context, campaignID string, req core.GenerationRequest, regenerate bool) (*core.Snapshot, error) {
	action := "generate"
	if regenerate {
		action = "regenerate"
	}
	return c.job(ctx, http.MethodPost, campaignPath(campaignID, action), nil, req)
}

// SubmitRefinement starts a refinement of an existing template.
func (c *Client) SubmitRefinement(ctx context.Context, campaignID, templateID string, req core.RefinementRequest) (*core.Snapshot, error) {
	req.TemplateID = templateID
	return c.job(ctx, http.MethodPost, campaignPath(campaignID, "templates", templateID, "refine"), nil, req)
}

// SubmitSubjectLines starts a subject line variant job.
func (c *Client) SubmitSubjectLines(ctx context.Context, campaignID string, req core.SubjectLineRequest) (*core.Snapshot, error) {
	return c.job(ctx, http.MethodPost, campaignPath(campaignID, "subject-lines"), nil, req)
}

// GetJobStatus fetches the current state of a job.
func (c *Client) GetJobStatus(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error) {
	return c.job(ctx, http.MethodGet, campaignPath(campaignID, "generate", jobID), nil, nil)
}

// CancelJob asks the platform to cancel a job.
func (c *Client) CancelJob(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error) {
	return c.job(ctx, http.MethodPost, campaignPath(campaignID, "generate", jobID, "cancel"), nil, nil)
}

// CreateTemplateFromVariant saves a generated variant as a draft template.
// variantID is the platform's 1-based variant number.
func (c *Client) CreateTemplateFromVariant(ctx context.Context, campaignID, jobID string, variantID int) (string, error) {
	q := url.Values{"variant_id": {strconv.Itoa(variantID)}}
	var out messageResponse
	if err := c.do(ctx, http.MethodPost, campaignPath(campaignID, "generate", jobID, "create-template"), q, nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ListJobs returns one page of a campaign's generation jobs.
func (c *Client) ListJobs(ctx context.Context, campaignID string, page, perPage int) (*core.JobPage, error) {
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	var out jobListResponse
	if err := c.do(ctx, http.MethodGet, campaignPath(campaignID, "generate"), q, nil, &out); err != nil {
		return nil, err
	}
	p := &core.JobPage{
		Jobs:    make([]*core.Snapshot, 0, len(out.Jobs)),
		Total:   out.Total,
		Page:    out.Page,
		PerPage: out.PerPage,
		Pages:   out.Pages,
	}
	for i := range out.Jobs {
		p.Jobs = append(p.Jobs, out.Jobs[i].snapshot())
	}
	return p, nil
}

func (c *Client) job(ctx context.Context, method, path string, q url.Values, body any) (*core.Snapshot, error) {
	var out jobResponse
	if err := c.do(ctx, method, path, q, body, &out); err != nil {
		return nil, err
	}
	return out.snapshot(), nil
}

func campaignPath(campaignID string, parts ...string) string {
	segs := append([]string{"campaigns", url.PathEscape(campaignID)}, parts...)
	for i := 2; i < len(segs); i++ {
		segs[i] = url.PathEscape(segs[i])
	}
	return "/" + strings.Join(segs, "/")
}

// do sends one API call and decodes a successful response into out.
// A 401 is retried once after the token source drops its cached token.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("genjobs: failed to encode request: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.send(ctx, method, path, q, payload)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 1 {
			if inv, ok := c.tokens.(invalidator); ok {
				drain(resp)
				c.logger.Debug("access token rejected, refreshing", "path", path)
				inv.Invalidate()
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			terr := errorFromResponse(resp)
			drain(resp)
			return terr
		}

		err = nil
		if out != nil {
			if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
				err = core.NewTransportError(core.KindServer, resp.StatusCode, "malformed response", derr)
			}
		}
		drain(resp)
		return err
	}
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, payload []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("genjobs: failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			if core.ErrorKindOf(err) != "" {
				return nil, err
			}
			return nil, core.NewTransportError(core.KindAuth, 0, "no usable access token", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, core.NewTransportError(core.KindNetwork, 0, "request aborted", ctxErr)
		}
		return nil, core.NewTransportError(core.KindNetwork, 0, "", err)
	}
	return resp, nil
}

// errorFromResponse classifies a non-2xx response.
func errorFromResponse(resp *http.Response) *core.TransportError {
	var kind core.ErrorKind
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		kind = core.KindAuth
	case resp.StatusCode == http.StatusNotFound:
		kind = core.KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		kind = core.KindServer
	default:
		kind = core.KindValidation
	}

	msg := http.StatusText(resp.StatusCode)
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if text := body.text(); text != "" {
			msg = text
		}
	}
	return core.NewTransportError(kind, resp.StatusCode, security.SanitizeErrorMessage(msg), nil)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// IsUnauthorized reports whether err means the session can no longer be used.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingRefreshToken) || core.ErrorKindOf(err) == core.KindAuth
}
