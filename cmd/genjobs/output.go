package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
	"github.com/jdziat/campaign-genjobs/pkg/reconcile"
	"github.com/jdziat/campaign-genjobs/pkg/stats"
)

func (a *app) submit(ctx context.Context, campaignID string, req core.Request, wait bool) error {
	jobID, err := a.ctrl.Submit(ctx, campaignID, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "submitted %s job %s\n", req.Kind, jobID)
	if !wait {
		return nil
	}
	return a.wait(ctx, jobID)
}

// wait prints each status change of the job until it finishes, then its
// variants or failure. Interrupting stops watching, not the job.
func (a *app) wait(ctx context.Context, jobID string) error {
	updates := make(chan *core.Job, 16)
	done := make(chan struct{})
	defer close(done)
	unsubscribe, err := a.ctrl.Subscribe(ctx, jobID, func(j *core.Job) {
		select {
		case updates <- j:
		case <-done:
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	var last core.JobStatus
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(a.out, "stopped watching %s; it keeps running on the server\n", jobID)
			return nil
		case j := <-updates:
			if j.Status != last {
				fmt.Fprintf(a.out, "%s  %s\n", j.UpdatedAt.Local().Format(time.TimeOnly), j.Status)
				last = j.Status
			}
			if j.IsTerminal() {
				return a.printOutcome(ctx, j)
			}
		}
	}
}

func (a *app) printOutcome(ctx context.Context, j *core.Job) error {
	switch j.Status {
	case core.StatusFailed:
		f, _ := j.Failure()
		return fmt.Errorf("job %s failed: %s", j.ID, f.Message)
	case core.StatusCancelled:
		return nil
	}
	res, err := a.ctrl.GetVariants(ctx, j.ID)
	if err != nil {
		return err
	}
	if j.AIModel != "" {
		fmt.Fprintf(a.out, "model %s, %d tokens\n", j.AIModel, j.TokensUsed)
	}
	printVariants(a.out, res)
	return nil
}

func printVariants(w io.Writer, res reconcile.Result) {
	if res.NoUsableOutput {
		fmt.Fprintln(w, "the job finished but produced no usable content")
	}
	for _, v := range res.Variants {
		fmt.Fprintf(w, "\n[%d] %s\n", v.Index(), v.Subject())
		if p, ok := v.PreviewText(); ok {
			fmt.Fprintf(w, "    preview: %s\n", p)
		}
		if c, ok := v.Confidence(); ok {
			fmt.Fprintf(w, "    confidence: %.2f\n", c)
		}
		if r, ok := v.Reasoning(); ok {
			fmt.Fprintf(w, "    reasoning: %s\n", r)
		}
		if t, ok := v.TextBody(); ok {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(strings.TrimSpace(t), "\n", "\n    "))
		}
	}
	for _, d := range res.Dropped {
		fmt.Fprintln(w, d)
	}
}

func printJobs(w io.Writer, jobs []*core.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tKIND\tSTATUS\tCREATED\tDETAIL")
	for _, j := range jobs {
		detail := ""
		if f, ok := j.Failure(); ok {
			detail = f.Message
		} else if out, ok := j.Output(); ok {
			detail = fmt.Sprintf("%d outputs", len(out))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Kind, j.Status, j.CreatedAt.Local().Format(time.DateTime), detail)
	}
	tw.Flush()
}

func printStats(w io.Writer, rows []stats.JobStat) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MINUTE\tKIND\tSUBMITTED\tCOMPLETED\tFAILED\tCANCELLED\tLOST\tEMPTY\tRETRIES\tPENDING\tPROCESSING")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Timestamp.Local().Format(time.DateTime), r.Kind,
			r.Submitted, r.Completed, r.Failed, r.Cancelled, r.LostConnection, r.NoUsableOutput,
			r.PollRetries, r.Pending, r.Processing)
	}
	tw.Flush()
}
