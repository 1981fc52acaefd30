package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/poller"
	"github.com/jdziat/campaign-genjobs/pkg/repository"
)

const (
	testInterval = 50 * time.Millisecond
	waitFor      = 3 * time.Second
	tick         = 10 * time.Millisecond
)

func genRequest() core.Request {
	return core.Request{
		Kind:        core.KindGenerate,
		SubmittedBy: "user-1",
		Generation: &core.GenerationRequest{
			Prompt:  "Write a launch email for CTOs",
			Options: core.DefaultOptions(),
		},
	}
}

func refineRequest(templateID string) core.Request {
	return core.Request{
		Kind: core.KindRefine,
		Refinement: &core.RefinementRequest{
			TemplateID:   templateID,
			Instructions: "Make the tone more casual",
		},
	}
}

func newTestController(t *testing.T, m *mockTransport, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithPollInterval(testInterval),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	c := New(m, append(base, opts...)...)
	t.Cleanup(c.Close)
	return c
}

func waitStatus(t *testing.T, c *Controller, jobID string, want core.JobStatus) *core.Job {
	t.Helper()
	var job *core.Job
	require.Eventually(t, func() bool {
		j, err := c.Job(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, waitFor, tick, "job %s never reached %s", jobID, want)
	return job
}

func TestController_SubmitPollsToCompletion(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	job, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, job.Status)
	assert.Equal(t, "camp-1", job.CampaignID)
	assert.Equal(t, "user-1", job.SubmittedBy)
	assert.Equal(t, 30*time.Second, job.EstimatedCompletion)
	assert.True(t, c.Polling(id))

	m.set(id, core.StatusProcessing)
	job = waitStatus(t, c, id, core.StatusProcessing)
	assert.NotNil(t, job.StartedAt)

	m.set(id, core.StatusCompleted, withOutput(
		`{"variant_id":1,"subject_line":"Unlock 3x Productivity","confidence_score":0.92}`,
		`{"variant_id":2,"subject_line":"Your team deserves better"}`,
	))
	job = waitStatus(t, c, id, core.StatusCompleted)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, "model-x", job.AIModel)
	assert.Equal(t, 2450, job.TokensUsed)

	require.Eventually(t, func() bool { return !c.Polling(id) }, waitFor, tick)

	res, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	require.Len(t, res.Variants, 2)
	assert.Equal(t, "Unlock 3x Productivity", res.Variants[0].Subject())
	assert.False(t, res.NoUsableOutput)
}

func TestController_PendingStraightToCompleted(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	var got updates
	unsub, err := c.Subscribe(ctx, id, got.add)
	require.NoError(t, err)
	defer unsub()

	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Hi"}`))
	waitStatus(t, c, id, core.StatusCompleted)

	require.Eventually(t, func() bool { return len(got.statuses()) == 2 }, waitFor, tick)
	assert.Equal(t, []core.JobStatus{core.StatusPending, core.StatusCompleted}, got.statuses())
}

func TestController_DuplicateSubmissionRejected(t *testing.T) {
	m := newMockTransport()
	gate := make(chan struct{})
	m.submitGate = gate
	c := newTestController(t, m)
	ctx := context.Background()

	type result struct {
		id  string
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := c.Submit(ctx, "camp-1", genRequest())
		done <- result{id, err}
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, ok := c.keys["camp-1/generate"]
		return ok
	}, waitFor, tick)

	_, err := c.Submit(ctx, "camp-1", genRequest())
	assert.ErrorIs(t, err, core.ErrSubmissionInFlight, "duplicate while submitting")

	close(gate)
	first := <-done
	require.NoError(t, first.err)

	_, err = c.Submit(ctx, "camp-1", genRequest())
	assert.ErrorIs(t, err, core.ErrSubmissionInFlight, "duplicate while pending")

	_, err = c.Submit(ctx, "camp-2", genRequest())
	assert.NoError(t, err, "other campaigns are independent")

	m.set(first.id, core.StatusCompleted, withOutput(`{"subject_line":"Hi"}`))
	waitStatus(t, c, first.id, core.StatusCompleted)

	_, err = c.Submit(ctx, "camp-1", genRequest())
	assert.NoError(t, err, "a finished request may be submitted again")
}

func TestController_RefinementsOfDifferentTemplatesAreIndependent(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	_, err := c.Submit(ctx, "camp-1", refineRequest("tpl-1"))
	require.NoError(t, err)
	_, err = c.Submit(ctx, "camp-1", refineRequest("tpl-2"))
	require.NoError(t, err)
	_, err = c.Submit(ctx, "camp-1", refineRequest("tpl-1"))
	assert.ErrorIs(t, err, core.ErrSubmissionInFlight)
}

func TestController_SubmitFailureLeavesNoJob(t *testing.T) {
	m := newMockTransport()
	m.submitErr = core.NewTransportError(core.KindServer, 500, "Failed to create generation job", nil)
	c := newTestController(t, m)
	ctx := context.Background()

	_, err := c.Submit(ctx, "camp-1", genRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindServer, core.ErrorKindOf(err))

	jobs, err := c.History(ctx, "camp-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, int32(0), m.statusCalls.Load())

	m.mu.Lock()
	m.submitErr = nil
	m.mu.Unlock()

	_, err = c.Submit(ctx, "camp-1", genRequest())
	assert.NoError(t, err, "the request key must be released after a failed submission")
}

func TestController_SubmitValidation(t *testing.T) {
	c := newTestController(t, newMockTransport())
	ctx := context.Background()

	req := genRequest()
	req.Generation.Prompt = "short"
	_, err := c.Submit(ctx, "camp-1", req)
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = c.Submit(ctx, "../camp", genRequest())
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = c.Submit(ctx, "camp-1", core.Request{Kind: core.KindRefine})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestController_RegenerateRoute(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)

	req := genRequest()
	req.Regenerate = true
	_, err := c.Submit(context.Background(), "camp-1", req)
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.regenerated)
}

func TestController_CancelWinsOverInFlightCompletion(t *testing.T) {
	m := newMockTransport()
	enter := make(chan string)
	gate := make(chan struct{})
	m.statusEnter = enter
	m.statusGate = gate
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	var got updates
	unsub, err := c.Subscribe(ctx, id, got.add)
	require.NoError(t, err)
	defer unsub()

	<-enter // a status check is now in flight
	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Too late"}`))

	require.NoError(t, c.Cancel(ctx, id))

	job, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, job.Status, "cancel is applied before the backend is told")
	assert.False(t, c.Polling(id))

	close(gate)
	time.Sleep(3 * testInterval)

	job, err = c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, job.Status)
	_, ok := job.Output()
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		last := got.last()
		return last != nil && last.Status == core.StatusCancelled
	}, waitFor, tick)
	assert.Equal(t, []core.JobStatus{core.StatusPending, core.StatusCancelled}, got.statuses())
	assert.Equal(t, []string{id}, m.cancelCalls())

	res, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, res.Variants)
}

func TestController_CancelFailureIsOnlyLogged(t *testing.T) {
	m := newMockTransport()
	m.cancelErr = core.NewTransportError(core.KindNetwork, 0, "connection reset", nil)
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, id))
	job, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, job.Status)

	require.NoError(t, c.Cancel(ctx, id), "cancel is idempotent")
	assert.Len(t, m.cancelCalls(), 1)

	_, err = c.Submit(ctx, "camp-1", genRequest())
	assert.NoError(t, err, "cancelling releases the request key")
}

func TestController_CancelTerminalIsNoop(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Done"}`))
	waitStatus(t, c, id, core.StatusCompleted)

	require.NoError(t, c.Cancel(ctx, id))
	job, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
	assert.Empty(t, m.cancelCalls())

	assert.ErrorIs(t, c.Cancel(ctx, "missing"), core.ErrJobNotFound)
}

func TestController_TerminalJobsIgnoreObservations(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Final"}`))
	waitStatus(t, c, id, core.StatusCompleted)

	cont := c.observe(poller.Observation{JobID: id, Snapshot: &core.Snapshot{ID: id, Status: core.StatusFailed, ErrorMessage: "late"}})
	assert.False(t, cont)
	cont = c.observe(poller.Observation{JobID: id, Err: errors.New("late"), Exhausted: true})
	assert.False(t, cont)

	job, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
	out, ok := job.Output()
	require.True(t, ok)
	assert.Len(t, out, 1)
}

func TestController_BackendFailure(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusFailed, withError("AI service error: rate limited"))

	job := waitStatus(t, c, id, core.StatusFailed)
	f, ok := job.Failure()
	require.True(t, ok)
	assert.Equal(t, "AI service error: rate limited", f.Message)
	assert.Equal(t, core.OriginBackend, f.Origin)

	res, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, res.Variants)
}

func TestController_LostConnection(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m, WithRetry(poller.RetryConfig{MaxConsecutiveFailures: 3}))
	ctx := context.Background()

	events := c.Events()
	defer c.Unsubscribe(events)

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.failStatus(id, core.NewTransportError(core.KindNetwork, 0, "dial tcp: connection refused", nil))

	job := waitStatus(t, c, id, core.StatusFailed)
	f, ok := job.Failure()
	require.True(t, ok)
	assert.Equal(t, core.DiagnosticLostConnection, f.Message)
	assert.Equal(t, core.OriginClient, f.Origin)
	assert.False(t, c.Polling(id))

	var retries int
	var failed *core.JobFailed
	timeout := time.After(waitFor)
	for failed == nil {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case *core.PollRetrying:
				retries++
			case *core.JobFailed:
				failed = e
			}
		case <-timeout:
			t.Fatal("no JobFailed event")
		}
	}
	assert.Equal(t, 3, retries)
	assert.Equal(t, core.OriginClient, failed.Failure.Origin)
}

func TestController_JobUnavailable(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.failStatus(id, core.NewTransportError(core.KindNotFound, 404, "AI generation job not found", nil))

	job := waitStatus(t, c, id, core.StatusFailed)
	f, _ := job.Failure()
	assert.Equal(t, core.DiagnosticJobUnavailable, f.Message)
	assert.Equal(t, core.OriginClient, f.Origin)
}

func TestController_SubscriptionOrder(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	var got updates
	unsub, err := c.Subscribe(ctx, id, got.add)
	require.NoError(t, err)
	defer unsub()

	m.set(id, core.StatusProcessing)
	waitStatus(t, c, id, core.StatusProcessing)
	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Hi"}`))
	waitStatus(t, c, id, core.StatusCompleted)

	want := []core.JobStatus{core.StatusPending, core.StatusProcessing, core.StatusCompleted}
	require.Eventually(t, func() bool { return len(got.statuses()) == len(want) }, waitFor, tick)
	time.Sleep(3 * testInterval)
	assert.Equal(t, want, got.statuses(), "no deliveries after the terminal update")
}

func TestController_SubscribeToTerminalJob(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Hi"}`))
	waitStatus(t, c, id, core.StatusCompleted)
	require.Eventually(t, func() bool { return !c.Polling(id) }, waitFor, tick)

	var got updates
	unsub, err := c.Subscribe(ctx, id, got.add)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return len(got.statuses()) == 1 }, waitFor, tick)
	time.Sleep(3 * testInterval)
	assert.Equal(t, []core.JobStatus{core.StatusCompleted}, got.statuses())
	assert.False(t, c.Polling(id), "subscribing to a finished job does not poll")

	_, err = c.Subscribe(ctx, "missing", got.add)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestController_UnsubscribeStopsDelivery(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	var got updates
	unsub, err := c.Subscribe(ctx, id, got.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.statuses()) == 1 }, waitFor, tick)

	unsub()
	unsub()

	m.set(id, core.StatusProcessing)
	waitStatus(t, c, id, core.StatusProcessing)
	time.Sleep(3 * testInterval)
	assert.Len(t, got.statuses(), 1)
}

func TestController_VariantsKeepOutputPositions(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)

	_, err = c.GetVariants(ctx, id)
	assert.ErrorIs(t, err, core.ErrJobNotCompleted)
	_, err = c.CreateTemplate(ctx, id, 0)
	assert.ErrorIs(t, err, core.ErrJobNotCompleted)

	m.set(id, core.StatusCompleted, withOutput(
		`{"variant_id":1,"preview_text":"no subject"}`,
		`{"variant_id":2,"subject_line":"Kept"}`,
	))
	waitStatus(t, c, id, core.StatusCompleted)

	res, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)
	assert.Equal(t, 1, res.Variants[0].Index())
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, 0, res.Dropped[0].Index)

	again, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res, again)

	msg, err := c.CreateTemplate(ctx, id, 1)
	require.NoError(t, err)
	assert.Contains(t, msg, "tpl-2")

	_, err = c.CreateTemplate(ctx, id, 0)
	assert.ErrorIs(t, err, core.ErrVariantNotFound)

	m.mu.Lock()
	assert.Equal(t, []int{2}, m.templateFor)
	m.mu.Unlock()
}

func TestController_NoUsableOutputIsNotFailure(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	events := c.Events()
	defer c.Unsubscribe(events)

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusCompleted, withOutput(`{}`, `"junk"`))
	waitStatus(t, c, id, core.StatusCompleted)

	res, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.NoUsableOutput)
	assert.Empty(t, res.Variants)

	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-events:
			if done, ok := ev.(*core.JobCompleted); ok {
				assert.True(t, done.NoUsableOutput)
				return
			}
			_, failed := ev.(*core.JobFailed)
			require.False(t, failed)
		case <-timeout:
			t.Fatal("no JobCompleted event")
		}
	}
}

func TestController_EventSequence(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	events := c.Events()
	defer c.Unsubscribe(events)

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusProcessing)
	waitStatus(t, c, id, core.StatusProcessing)
	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Hi"}`))

	var kinds []string
	timeout := time.After(waitFor)
	for len(kinds) < 3 {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case *core.JobSubmitted:
				kinds = append(kinds, "submitted")
			case *core.JobStatusChanged:
				assert.Equal(t, core.StatusPending, e.From)
				assert.Equal(t, core.StatusProcessing, e.Job.Status)
				kinds = append(kinds, "changed")
			case *core.JobCompleted:
				assert.Equal(t, id, e.Job.ID)
				kinds = append(kinds, "completed")
			}
		case <-timeout:
			t.Fatalf("events so far: %v", kinds)
		}
	}
	assert.Equal(t, []string{"submitted", "changed", "completed"}, kinds)
}

func TestController_Track(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	m.set("ext-1", core.StatusProcessing, func(s *core.Snapshot) {
		s.CampaignID = "camp-1"
		s.Kind = core.KindSubjectLines
	})

	job, err := c.Track(ctx, "camp-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, job.Status)
	assert.Equal(t, core.KindSubjectLines, job.Kind)
	assert.True(t, c.Polling("ext-1"))

	_, err = c.Submit(ctx, "camp-1", core.Request{
		Kind:         core.KindSubjectLines,
		SubjectLines: &core.SubjectLineRequest{EmailContent: "<p>Hello</p>", Count: 5},
	})
	assert.ErrorIs(t, err, core.ErrSubmissionInFlight)

	m.set("ext-1", core.StatusCompleted, withOutput(`{"subject_line":"A"}`))
	waitStatus(t, c, "ext-1", core.StatusCompleted)

	_, err = c.Track(ctx, "camp-1", "ghost")
	assert.Equal(t, core.KindNotFound, core.ErrorKindOf(err))
}

func TestController_Resume(t *testing.T) {
	m := newMockTransport()
	now := time.Now()
	history := []*core.Snapshot{
		{ID: "h-1", CampaignID: "camp-1", Kind: core.KindGenerate, Status: core.StatusProcessing, CreatedAt: now},
		{ID: "h-2", CampaignID: "camp-1", Kind: core.KindRefine, Status: core.StatusPending, CreatedAt: now.Add(-time.Minute)},
		{ID: "h-3", CampaignID: "camp-1", Kind: core.KindGenerate, Status: core.StatusCompleted, CreatedAt: now.Add(-time.Hour)},
	}
	m.history["camp-1"] = history
	for _, s := range history {
		c := *s
		m.snaps[s.ID] = &c
	}
	m.set("h-3", core.StatusCompleted, withOutput(`{"subject_line":"Old"}`))

	c := newTestController(t, m, WithHistoryPageSize(2))
	ctx := context.Background()

	jobs, err := c.Resume(ctx, "camp-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.True(t, c.Polling("h-1"))
	assert.True(t, c.Polling("h-2"))
	assert.False(t, c.Polling("h-3"))

	_, err = c.Submit(ctx, "camp-1", refineRequest("tpl-1"))
	assert.NoError(t, err, "an adopted refinement with no known template holds no key")

	m.set("h-1", core.StatusCompleted, withOutput(`{"subject_line":"New"}`))
	m.set("h-2", core.StatusFailed, withError("boom"))
	waitStatus(t, c, "h-1", core.StatusCompleted)
	waitStatus(t, c, "h-2", core.StatusFailed)

	stored, err := c.History(ctx, "camp-1")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestController_StateSurvivesRestart(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo, err := repository.NewGormRepositoryWithPool(db, repository.WithPoolConfig(repository.SQLiteMemoryPoolConfig()))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(context.Background()))

	m := newMockTransport()
	ctx := context.Background()

	first := New(m, WithRepository(repo), WithPollInterval(testInterval), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	id, err := first.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusCompleted, withOutput(`{"variant_id":1,"subject_line":"Persisted"}`))
	waitStatus(t, first, id, core.StatusCompleted)
	first.Close()

	second := newTestController(t, m, WithRepository(repo))
	job, err := second.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, job.Status)
	require.NotNil(t, job.Request.Generation)
	assert.Equal(t, "Write a launch email for CTOs", job.Request.Generation.Prompt)

	res, err := second.GetVariants(ctx, id)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)
	assert.Equal(t, "Persisted", res.Variants[0].Subject())
}

func TestController_Closed(t *testing.T) {
	m := newMockTransport()
	c := New(m, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	c.Close()
	c.Close()

	_, err := c.Submit(context.Background(), "camp-1", genRequest())
	assert.ErrorIs(t, err, core.ErrControllerClosed)
	_, err = c.Subscribe(context.Background(), "job-1", func(*core.Job) {})
	assert.ErrorIs(t, err, core.ErrControllerClosed)
}

func TestController_EditingVariantsLeavesStoredResult(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusCompleted, withOutput(`{"variant_id":1,"subject_line":"Original"}`))
	waitStatus(t, c, id, core.StatusCompleted)

	res, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	require.Len(t, res.Variants, 1)
	res.Variants[0] = res.Variants[0].WithSubject("Edited in the editor")

	again, err := c.GetVariants(ctx, id)
	require.NoError(t, err)
	require.Len(t, again.Variants, 1)
	assert.Equal(t, "Original", again.Variants[0].Subject())
	assert.Equal(t, "Edited in the editor", res.Variants[0].Subject())

	_, err = c.CreateTemplate(ctx, id, 0)
	require.NoError(t, err)
	m.mu.Lock()
	assert.Equal(t, []int{1}, m.templateFor)
	m.mu.Unlock()
}

func TestController_SubscribersSharePoller(t *testing.T) {
	m := newMockTransport()
	c := newTestController(t, m)
	ctx := context.Background()

	id, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	m.set(id, core.StatusProcessing)

	subs := make([]*updates, 5)
	for i := range subs {
		subs[i] = &updates{}
		unsub, err := c.Subscribe(ctx, id, subs[i].add)
		require.NoError(t, err)
		defer unsub()
	}
	assert.Equal(t, 1, c.poller.ActiveCount())

	m.statusCalls.Store(0)
	time.Sleep(10 * testInterval)
	calls := m.statusCalls.Load()
	assert.LessOrEqual(t, calls, int32(12), "one check per interval, not one per subscriber")
	assert.Equal(t, 1, c.poller.ActiveCount())

	m.set(id, core.StatusCompleted, withOutput(`{"subject_line":"Hi"}`))
	for _, u := range subs {
		require.Eventually(t, func() bool {
			j := u.last()
			return j != nil && j.Status == core.StatusCompleted
		}, waitFor, tick)
	}
	require.Eventually(t, func() bool { return c.poller.ActiveCount() == 0 }, waitFor, tick)
}

func TestController_SlowSaveDoesNotBlockOtherJobs(t *testing.T) {
	m := newMockTransport()
	repo := newGatedRepository()
	c := newTestController(t, m, WithRepository(repo))
	ctx := context.Background()

	slow, err := c.Submit(ctx, "camp-1", genRequest())
	require.NoError(t, err)
	other, err := c.Submit(ctx, "camp-1", core.Request{
		Kind:         core.KindSubjectLines,
		SubjectLines: &core.SubjectLineRequest{TemplateID: "tpl-1", Count: 3},
	})
	require.NoError(t, err)

	entered, release := repo.hold(slow)
	m.set(slow, core.StatusProcessing)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("save of the processing state never started")
	}

	// The save is stuck; the controller still serves reads and other jobs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		job, err := c.Job(ctx, slow)
		assert.NoError(t, err)
		assert.Equal(t, core.StatusProcessing, job.Status)
		assert.NoError(t, c.Cancel(ctx, other))
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("controller blocked behind a repository write")
	}

	stored, err := repo.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, stored.Status)

	release()
	require.Eventually(t, func() bool {
		j, err := repo.Get(ctx, slow)
		return err == nil && j != nil && j.Status == core.StatusProcessing
	}, waitFor, tick)
}
