package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/trezcool/maabara/core/session"
)

func (cli *commandLine) signInCmd(ctx context.Context, args []string) error {
	email, err := parseEmailFlag("signin", args)
	if err != nil {
		return err
	}
	pwd, err := promptPassword("Enter password:")
	if err != nil {
		return err
	}
	if pwd == "" {
		return errHelp
	}
	if err = cli.manager.SignIn(ctx, email, pwd); err != nil {
		return err
	}

	st := cli.manager.State()
	fmt.Printf("Signed in as %s (%s)\n", st.User.Username, st.User.Role)
	if st.State == session.AuthenticatedNeedsName {
		fmt.Println("Your name is not set yet; run: portal set-name -name \"FULL NAME\"")
	}
	return nil
}

func (cli *commandLine) signUpCmd(ctx context.Context, args []string) error {
	email, err := parseEmailFlag("signup", args)
	if err != nil {
		return err
	}
	pwd, err := promptPassword("Choose a password:")
	if err != nil {
		return err
	}
	if err = cli.manager.SignUp(ctx, email, pwd); err != nil {
		return err
	}
	fmt.Println("Account created. Check your inbox for the confirmation code, then run: portal confirm-signup")
	return nil
}

func (cli *commandLine) confirmSignUpCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("confirm-signup", flag.ExitOnError)
	email := fs.String("email", "", "The account's email address.")
	code := fs.String("code", "", "The confirmation code from the email.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *code == "" {
		fs.Usage()
		return errHelp
	}
	if err := cli.manager.ConfirmSignUp(ctx, *email, *code); err != nil {
		return err
	}
	fmt.Println("Account confirmed. You can sign in now.")
	return nil
}

func (cli *commandLine) emailCmd(ctx context.Context, name string, args []string, fn func(context.Context, string) error) error {
	email, err := parseEmailFlag(name, args)
	if err != nil {
		return err
	}
	if err = fn(ctx, email); err != nil {
		return err
	}
	fmt.Println("Check your inbox.")
	return nil
}

func (cli *commandLine) confirmForgotCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("confirm-forgot", flag.ExitOnError)
	email := fs.String("email", "", "The account's email address.")
	code := fs.String("code", "", "The reset code from the email.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *code == "" {
		fs.Usage()
		return errHelp
	}
	pwd, err := promptPassword("New password:")
	if err != nil {
		return err
	}
	if err = cli.manager.ConfirmForgotPassword(ctx, *email, *code, pwd); err != nil {
		return err
	}
	fmt.Println("Password updated. You can sign in now.")
	return nil
}

func (cli *commandLine) whoAmICmd(ctx context.Context) error {
	st, err := cli.requireAuth(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("username : %s\n", st.User.Username)
	fmt.Printf("role     : %s\n", st.User.Role)
	if st.User.StudentID != "" {
		fmt.Printf("student  : %s\n", st.User.StudentID)
	}
	if st.User.FullName != "" {
		fmt.Printf("name     : %s\n", st.User.FullName)
	} else {
		fmt.Println("name     : (not set)")
	}
	return nil
}

func (cli *commandLine) setNameCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-name", flag.ExitOnError)
	name := fs.String("name", "", "Your full name as it should appear to staff.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errHelp
	}
	if _, err := cli.requireAuth(ctx); err != nil {
		return err
	}
	if err := cli.manager.UpdateUserAttributes(ctx, *name); err != nil {
		return err
	}
	fmt.Println("Name updated.")
	return nil
}
