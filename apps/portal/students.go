package main

import (
	"context"
	"flag"
	"fmt"
)

func (cli *commandLine) studentsCmd(ctx context.Context) error {
	if _, err := cli.requireStaff(ctx); err != nil {
		return err
	}
	token, err := cli.manager.IDToken()
	if err != nil {
		return err
	}

	students, err := cli.backend.Students(ctx, token)
	if err != nil {
		return err
	}
	for _, s := range students {
		account := "no account"
		if s.HasAccount {
			account = "registered"
		}
		progress := ""
		if s.ProgressSummary != nil {
			progress = fmt.Sprintf("%d/%d labs (%.0f%%)",
				s.ProgressSummary.CompletedLabs, s.ProgressSummary.TotalLabs, s.ProgressSummary.OverallProgress)
		}
		fmt.Printf("%-30s %-10s %-12s %s\n", s.Name, s.Section, account, progress)
	}
	return nil
}

func (cli *commandLine) progressCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	studentID := fs.String("student", "", "The student id.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *studentID == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireStaff(ctx); err != nil {
		return err
	}
	token, err := cli.manager.IDToken()
	if err != nil {
		return err
	}

	detail, err := cli.backend.Progress(ctx, token, *studentID)
	if err != nil {
		return err
	}
	fmt.Println(detail.Name)
	for _, lp := range detail.Progress {
		done := " "
		if lp.Completed {
			done = "x"
		}
		grade := "-"
		if lp.Grade != nil {
			grade = fmt.Sprintf("%.1f", *lp.Grade)
		}
		fmt.Printf("[%s] %-12s %-8s grade=%-5s %s\n", done, lp.LabID, lp.Status, grade, lp.Title)
		for _, pp := range lp.Parts {
			partDone := " "
			if pp.Completed {
				partDone = "x"
			}
			fmt.Printf("    [%s] %-12s %s\n", partDone, pp.PartID, pp.CheckoffType)
		}
	}
	return nil
}
