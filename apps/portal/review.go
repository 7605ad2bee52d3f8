package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/trezcool/maabara/core/submission"
)

func (cli *commandLine) queueCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	labID := fs.String("lab", "", "Only submissions for this lab.")
	partID := fs.String("part", "", "Only submissions for this part.")
	sortBy := fs.String("sort", submission.SortBySubmittedAt, "Sort key: submittedAt|updatedAt.")
	sortDir := fs.String("dir", submission.SortAsc, "Sort direction: asc|desc.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := cli.requireStaff(ctx); err != nil {
		return err
	}

	if err := cli.reviewer.Fetch(ctx, submission.QueueFilters{
		Status:        submission.StatusPending,
		LabID:         *labID,
		PartID:        *partID,
		SortBy:        *sortBy,
		SortDirection: *sortDir,
	}); err != nil {
		return err
	}

	fmt.Printf("%d pending of %d total\n", cli.reviewer.PendingCount(), cli.reviewer.TotalCount())
	current, hasCurrent := cli.reviewer.Current()
	for _, item := range cli.reviewer.Items() {
		marker := " "
		if hasCurrent && item.SubmissionID == current.SubmissionID {
			marker = ">"
		}
		kind := "video"
		if item.SelfCheckoff {
			kind = "self-checkoff"
		}
		fmt.Printf("%s %-36s %-10s %-10s %-13s %s\n",
			marker, item.SubmissionID, item.LabID, item.PartID, kind, item.DisplayName())
	}
	if hasCurrent && current.VideoURL != "" {
		fmt.Printf("\nwatch: %s\n", current.VideoURL)
	}
	return nil
}

func (cli *commandLine) decideCmd(
	ctx context.Context,
	name string,
	args []string,
	decide func(context.Context, submission.PartSubmission, string) error,
) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "The submission id.")
	feedback := fs.String("feedback", "", "Feedback for the student.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireStaff(ctx); err != nil {
		return err
	}

	if err := decide(ctx, submission.PartSubmission{SubmissionID: *id}, *feedback); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", name, *id)
	if next, ok := cli.reviewer.Current(); ok {
		fmt.Printf("next up: %s (%s %s by %s)\n", next.SubmissionID, next.LabID, next.PartID, next.DisplayName())
	}
	return nil
}
