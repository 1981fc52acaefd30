package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jdziat/campaign-genjobs/pkg/core"
)

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return nil
}

// optionFlags binds the generation option flags shared by generate and refine.
type optionFlags struct {
	tone            string
	length          string
	personalization string
	variants        int
	temperature     float64
	cta             string
	noCTA           bool
	noPreview       bool
	focus           string
}

func (o *optionFlags) register(fs *flag.FlagSet) {
	d := core.DefaultOptions()
	fs.StringVar(&o.tone, "tone", string(d.Tone), "tone: professional, friendly, formal, casual, urgent, enthusiastic")
	fs.StringVar(&o.length, "length", string(d.Length), "length: short, medium, long")
	fs.StringVar(&o.personalization, "personalization", string(d.Personalization), "personalization: low, medium, high")
	fs.IntVar(&o.variants, "variants", d.VariantsCount, "number of variants (1-5)")
	fs.Float64Var(&o.temperature, "temperature", d.Temperature, "creativity (0-1)")
	fs.StringVar(&o.cta, "cta", "", "call to action text")
	fs.BoolVar(&o.noCTA, "no-cta", false, "omit the call to action")
	fs.BoolVar(&o.noPreview, "no-preview", false, "omit preview text")
	fs.StringVar(&o.focus, "focus", "", "comma separated focus areas")
}

func (o *optionFlags) options() core.Options {
	opts := core.Options{
		Tone:               core.Tone(o.tone),
		Length:             core.Length(o.length),
		Personalization:    core.Personalization(o.personalization),
		VariantsCount:      o.variants,
		Temperature:        o.temperature,
		IncludeCTA:         !o.noCTA,
		CTAText:            o.cta,
		IncludePreviewText: !o.noPreview,
	}
	for _, f := range strings.Split(o.focus, ",") {
		if f = strings.TrimSpace(f); f != "" {
			opts.FocusAreas = append(opts.FocusAreas, f)
		}
	}
	return opts
}

func runGenerate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("generate", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	prompt := fs.String("prompt", "", "what the email should say (10-2000 characters)")
	regenerate := fs.Bool("regenerate", false, "start a new iteration of the campaign's content")
	by := fs.String("by", "", "submitting user")
	wait := fs.Bool("wait", false, "follow the job until it finishes")
	var of optionFlags
	of.register(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}

	req := core.Request{
		Kind:        core.KindGenerate,
		SubmittedBy: *by,
		Regenerate:  *regenerate,
		Generation: &core.GenerationRequest{
			Prompt:  *prompt,
			Options: of.options(),
		},
	}
	return a.submit(ctx, *campaign, req, *wait)
}

func runRefine(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("refine", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	template := fs.String("template", "", "template ID to refine")
	instructions := fs.String("instructions", "", "what to change (10-1000 characters)")
	sections := fs.String("sections", "", "comma separated sections to change")
	withOptions := fs.Bool("options", false, "send generation options with the refinement")
	by := fs.String("by", "", "submitting user")
	wait := fs.Bool("wait", false, "follow the job until it finishes")
	var of optionFlags
	of.register(fs)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}
	if err := required("template", *template); err != nil {
		return err
	}

	rf := &core.RefinementRequest{
		TemplateID:   *template,
		Instructions: *instructions,
	}
	for _, s := range strings.Split(*sections, ",") {
		if s = strings.TrimSpace(s); s != "" {
			rf.Sections = append(rf.Sections, s)
		}
	}
	if *withOptions {
		opts := of.options()
		rf.Options = &opts
	}
	req := core.Request{Kind: core.KindRefine, SubmittedBy: *by, Refinement: rf}
	return a.submit(ctx, *campaign, req, *wait)
}

func runSubjectLines(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("subject-lines", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	template := fs.String("template", "", "template ID to write subject lines for")
	content := fs.String("content", "", "email content, when no template is given")
	count := fs.Int("count", 5, "number of subject lines (1-10)")
	style := fs.String("style", "", "style hint, for example curiosity or urgency")
	by := fs.String("by", "", "submitting user")
	wait := fs.Bool("wait", false, "follow the job until it finishes")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}

	req := core.Request{
		Kind:        core.KindSubjectLines,
		SubmittedBy: *by,
		SubjectLines: &core.SubjectLineRequest{
			TemplateID:   *template,
			EmailContent: *content,
			Count:        *count,
			Style:        *style,
		},
	}
	return a.submit(ctx, *campaign, req, *wait)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("watch", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	jobID := fs.String("job", "", "job ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}
	if err := required("job", *jobID); err != nil {
		return err
	}

	if _, err := a.ctrl.Track(ctx, *campaign, *jobID); err != nil {
		return err
	}
	return a.wait(ctx, *jobID)
}

func runCancel(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("cancel", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	jobID := fs.String("job", "", "job ID")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}
	if err := required("job", *jobID); err != nil {
		return err
	}

	job, err := a.ctrl.Track(ctx, *campaign, *jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		fmt.Fprintf(a.out, "job %s already %s\n", job.ID, job.Status)
		return nil
	}
	if err := a.ctrl.Cancel(ctx, *jobID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "job %s cancelled\n", *jobID)
	return nil
}

func runUseVariant(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("use-variant", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	jobID := fs.String("job", "", "job ID")
	index := fs.Int("index", 0, "variant index as printed by watch")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}
	if err := required("job", *jobID); err != nil {
		return err
	}

	if _, err := a.ctrl.Track(ctx, *campaign, *jobID); err != nil {
		return err
	}
	msg, err := a.ctrl.CreateTemplate(ctx, *jobID, *index)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("history", a.out)
	campaign := fs.String("campaign", "", "campaign ID")
	local := fs.Bool("local", false, "only show jobs recorded locally, without calling the API")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("campaign", *campaign); err != nil {
		return err
	}

	var (
		jobs []*core.Job
		err  error
	)
	if *local {
		jobs, err = a.ctrl.History(ctx, *campaign)
	} else {
		jobs, err = a.ctrl.Resume(ctx, *campaign)
	}
	if err != nil {
		return err
	}
	printJobs(a.out, jobs)
	return nil
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("stats", a.out)
	kind := fs.String("kind", "", "job kind: generate, refine, subject_lines (default all)")
	since := fs.Duration("since", 24*time.Hour, "how far back to look")
	if err := parse(fs, args); err != nil {
		return err
	}

	now := time.Now().UTC()
	rows, err := a.stats.History(ctx, *kind, now.Add(-*since), now)
	if err != nil {
		return err
	}
	printStats(a.out, rows)
	return nil
}
