package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/maabara/core/lab"
	"github.com/trezcool/maabara/core/session"
)

func (cli *commandLine) labsCmd(ctx context.Context) error {
	if _, err := cli.requireAuth(ctx); err != nil {
		return err
	}

	// a denial from an earlier lab fetch surfaces once, here
	if msg, err := cli.cache.TakeMessage(session.MessageKeyLabAccess); err == nil && msg != "" {
		fmt.Printf("note: %s\n\n", msg)
	}

	token, err := cli.manager.IDToken()
	if err != nil {
		return err
	}
	labs, err := cli.backend.Labs(ctx, token)
	if err != nil {
		return err
	}
	for _, l := range labs {
		fmt.Printf("%-12s %-8s %s\n", l.LabID, l.Status(), l.Title)
	}
	return nil
}

func (cli *commandLine) labCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lab", flag.ExitOnError)
	id := fs.String("id", "", "The lab id.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireAuth(ctx); err != nil {
		return err
	}
	token, err := cli.manager.IDToken()
	if err != nil {
		return err
	}

	l, err := cli.backend.Lab(ctx, token, *id)
	if err != nil {
		if errors.Cause(err) == lab.ErrAccessDenied {
			// remember the denial so the next listing can explain it
			if pErr := cli.cache.PutMessage(session.MessageKeyLabAccess, lab.ErrAccessDenied.Error()); pErr != nil {
				cli.logger.Warn(fmt.Sprintf("storing lab access message: %v", pErr))
			}
		}
		return err
	}

	fmt.Printf("%s (%s)\n", l.Title, l.Status())
	if l.Description != "" {
		fmt.Println(l.Description)
	}
	for _, p := range l.Parts {
		checkoff := p.CheckoffType
		if !p.RequiresCheckoff {
			checkoff = lab.CheckoffNone
		}
		fmt.Printf("  %-12s %-8s %s\n", p.PartID, checkoff, p.Title)
	}
	return nil
}

func (cli *commandLine) lockCmd(ctx context.Context, args []string, locked bool) error {
	name := "unlock"
	if locked {
		name = "lock"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "The lab id.")
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
	token, err := cli.manager.IDToken()
	if err != nil {
		return err
	}

	if locked {
		err = cli.backend.LockLab(ctx, token, *id)
	} else {
		err = cli.backend.UnlockLab(ctx, token, *id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %sed\n", *id, name)
	return nil
}
