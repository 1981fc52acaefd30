// Command genjobs submits and tracks AI content generation jobs for a campaign.
//
// Usage:
//
//	genjobs <command> [flags]
//
// Commands:
//
//	generate       submit a generation job (-regenerate for a new iteration)
//	refine         submit a refinement of an existing template
//	subject-lines  submit a subject line job
//	watch          follow a job until it finishes and print its variants
//	cancel         cancel a running job
//	use-variant    create an email template from a completed job's variant
//	history        list a campaign's jobs and resume tracking unfinished ones
//	stats          print recorded job outcome counters
//
// Settings come from the environment and .env / .env.local. See internal/config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"generate", "submit a generation job", runGenerate},
	{"refine", "submit a refinement of an existing template", runRefine},
	{"subject-lines", "submit a subject line job", runSubjectLines},
	{"watch", "follow a job until it finishes", runWatch},
	{"cancel", "cancel a running job", runCancel},
	{"use-variant", "create a template from a variant", runUseVariant},
	{"history", "list a campaign's jobs", runHistory},
	{"stats", "print job outcome counters", runStats},
}

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if errors.Is(err, errUsage) {
		if err != errUsage {
			fmt.Fprintf(os.Stderr, "genjobs: %v\n", err)
		}
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "genjobs: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		a, err := newApp(ctx, out)
		if err != nil {
			return err
		}
		defer a.Close()
		return cmd.run(ctx, a, args[1:])
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(out)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: genjobs <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-14s %s\n", cmd.name, cmd.summary)
	}
}
