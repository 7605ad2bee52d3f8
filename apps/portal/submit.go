package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/trezcool/maabara/core/session"
	"github.com/trezcool/maabara/core/submission"
)

func (cli *commandLine) submitCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	labID := fs.String("lab", "", "The lab id.")
	partID := fs.String("part", "", "The lab part id.")
	file := fs.String("file", "", "Path to the video file.")
	notes := fs.String("notes", "", "Optional notes for the reviewer.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *labID == "" || *partID == "" || *file == "" {
		fs.Usage()
		return errHelp
	}
	st, err := cli.requireAuth(ctx)
	if err != nil {
		return err
	}
	if st.State == session.AuthenticatedNeedsName {
		return errNameRequired
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	cli.uploader.OnProgress = func(p submission.UploadProgress) {
		if p.Status == submission.UploadUploading {
			fmt.Printf("\ruploading %s... %3d%%", p.FileName, p.Progress)
		}
	}

	sub, err := cli.uploader.Upload(ctx, submission.File{
		Name:        info.Name(),
		ContentType: contentTypeFor(*file),
		Size:        info.Size(),
		Body:        f,
	}, *labID, *partID, *notes)
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("Submitted %s for review (submission %s)\n", sub.PartID, sub.SubmissionID)
	return nil
}

func (cli *commandLine) checkoffCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkoff", flag.ExitOnError)
	labID := fs.String("lab", "", "The lab id.")
	partID := fs.String("part", "", "The lab part id.")
	notes := fs.String("notes", "", "Optional notes for the reviewer.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *labID == "" || *partID == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireAuth(ctx); err != nil {
		return err
	}

	sub, err := cli.uploader.SelfCheckoff(ctx, *labID, *partID, *notes)
	if err != nil {
		return err
	}
	fmt.Printf("Checked off %s (submission %s)\n", sub.PartID, sub.SubmissionID)
	return nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
