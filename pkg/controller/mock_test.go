package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/repository"
)

// mockTransport implements core.Transport for testing.
// Each job's status is whatever the test last set; GetJobStatus returns it.
type mockTransport struct {
	mu        sync.Mutex
	seq       int
	snaps     map[string]*core.Snapshot
	statusErr map[string]error
	history   map[string][]*core.Snapshot

	submitErr   error
	submitGate  chan struct{} // when set, submissions wait on it
	statusGate  chan struct{} // when set, status checks wait on it
	statusEnter chan string   // when set, receives the job id of every status check

	cancelErr   error
	cancelled   []string
	templateFor []int
	regenerated int
	statusCalls atomic.Int32
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		snaps:     make(map[string]*core.Snapshot),
		statusErr: make(map[string]error),
		history:   make(map[string][]*core.Snapshot),
	}
}

func (m *mockTransport) ack(campaignID string, kind core.JobKind) (*core.Snapshot, error) {
	m.mu.Lock()
	gate := m.submitGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.seq++
	id := fmt.Sprintf("job-%d", m.seq)
	s := &core.Snapshot{
		ID:                  id,
		CampaignID:          campaignID,
		Kind:                kind,
		Status:              core.StatusPending,
		EstimatedCompletion: 30 * time.Second,
		CreatedAt:           time.Now(),
	}
	m.snaps[id] = s
	c := *s
	return &c, nil
}

func (m *mockTransport) SubmitGeneration(ctx context.Context, campaignID string, req core.GenerationRequest, regenerate bool) (*core.Snapshot, error) {
	if regenerate {
		m.mu.Lock()
		m.regenerated++
		m.mu.Unlock()
	}
	return m.ack(campaignID, core.KindGenerate)
}

func (m *mockTransport) SubmitRefinement(ctx context.Context, campaignID, templateID string, req core.RefinementRequest) (*core.Snapshot, error) {
	return m.ack(campaignID, core.KindRefine)
}

func (m *mockTransport) SubmitSubjectLines(ctx context.Context, campaignID string, req core.SubjectLineRequest) (*core.Snapshot, error) {
	return m.ack(campaignID, core.KindSubjectLines)
}

func (m *mockTransport) GetJobStatus(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error) {
	m.statusCalls.Add(1)
	m.mu.Lock()
	enter, gate := m.statusEnter, m.statusGate
	m.mu.Unlock()
	if enter != nil {
		enter <- jobID
	}
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statusErr[jobID]; err != nil {
		return nil, err
	}
	s, ok := m.snaps[jobID]
	if !ok {
		return nil, core.NewTransportError(core.KindNotFound, 404, "AI generation job not found", nil)
	}
	c := *s
	return &c, nil
}

func (m *mockTransport) CancelJob(ctx context.Context, campaignID, jobID string) (*core.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, jobID)
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	s, ok := m.snaps[jobID]
	if !ok {
		return nil, core.NewTransportError(core.KindNotFound, 404, "not found", nil)
	}
	s.Status = core.StatusCancelled
	c := *s
	return &c, nil
}

func (m *mockTransport) CreateTemplateFromVariant(ctx context.Context, campaignID, jobID string, variantID int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templateFor = append(m.templateFor, variantID)
	return fmt.Sprintf("Template created successfully (ID: tpl-%d, Version: 1)", variantID), nil
}

func (m *mockTransport) ListJobs(ctx context.Context, campaignID string, page, perPage int) (*core.JobPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.history[campaignID]
	start := (page - 1) * perPage
	end := start + perPage
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	pages := (len(all) + perPage - 1) / perPage
	out := make([]*core.Snapshot, 0, end-start)
	for _, s := range all[start:end] {
		c := *s
		out = append(out, &c)
	}
	return &core.JobPage{Jobs: out, Total: len(all), Page: page, PerPage: perPage, Pages: pages}, nil
}

// set replaces the backend state of a job.
func (m *mockTransport) set(jobID string, status core.JobStatus, mutate ...func(*core.Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[jobID]
	if !ok {
		s = &core.Snapshot{ID: jobID}
		m.snaps[jobID] = s
	}
	s.Status = status
	for _, fn := range mutate {
		fn(s)
	}
}

func (m *mockTransport) failStatus(jobID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr[jobID] = err
}

func (m *mockTransport) cancelCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func withOutput(items ...string) func(*core.Snapshot) {
	return func(s *core.Snapshot) {
		s.Output = make([]json.RawMessage, len(items))
		for i, it := range items {
			s.Output[i] = json.RawMessage(it)
		}
		s.AIModel = "model-x"
		s.TokensUsed = 2450
	}
}

func withError(msg string) func(*core.Snapshot) {
	return func(s *core.Snapshot) { s.ErrorMessage = msg }
}

// updates records every snapshot delivered to a subscription.
type updates struct {
	mu   sync.Mutex
	jobs []*core.Job
}

func (u *updates) add(j *core.Job) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.jobs = append(u.jobs, j)
}

func (u *updates) statuses() []core.JobStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]core.JobStatus, len(u.jobs))
	for i, j := range u.jobs {
		out[i] = j.Status
	}
	return out
}

func (u *updates) last() *core.Job {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.jobs) == 0 {
		return nil
	}
	return u.jobs[len(u.jobs)-1]
}

// gatedRepository holds saves of one job until release is closed.
type gatedRepository struct {
	*repository.MemoryRepository

	mu      sync.Mutex
	jobID   string
	entered chan string
	release chan struct{}
}

func newGatedRepository() *gatedRepository {
	return &gatedRepository{MemoryRepository: repository.NewMemoryRepository()}
}

// hold makes saves of jobID block until the returned release func is called.
func (r *gatedRepository) hold(jobID string) (entered <-chan string, release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobID = jobID
	r.entered = make(chan string, 16)
	r.release = make(chan struct{})
	ch := r.release
	return r.entered, func() { close(ch) }
}

func (r *gatedRepository) Save(ctx context.Context, job *core.Job) error {
	r.mu.Lock()
	held := job.ID == r.jobID
	entered, release := r.entered, r.release
	r.mu.Unlock()
	if held {
		entered <- string(job.Status)
		<-release
	}
	return r.MemoryRepository.Save(ctx, job)
}
