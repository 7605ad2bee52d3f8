package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/maabara/core"
	"github.com/trezcool/maabara/core/session"
	"github.com/trezcool/maabara/core/submission"
	backendsvc "github.com/trezcool/maabara/services/backend"
	"github.com/trezcool/maabara/storage/tokencache"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp         = errors.New("help provided")
	errStaffOnly    = errors.New("this command requires a staff account")
	errSignedOut    = errors.New("not signed in; run: portal signin -email EMAIL")
	errNameRequired = errors.New("please set your name first: portal set-name -name \"FULL NAME\"")
)

type commandLine struct {
	conf     *core.Config
	logger   core.Logger
	cache    *tokencache.Cache
	manager  *session.Manager
	backend  *backendsvc.Client
	uploader *submission.Uploader
	reviewer *submission.Controller
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  signin -email EMAIL                               - sign in; the password is prompted")
	fmt.Println("  signout                                           - sign out everywhere and clear cached tokens")
	fmt.Println("  signup -email EMAIL                               - register an account; the password is prompted")
	fmt.Println("  confirm-signup -email EMAIL -code CODE            - confirm a registration")
	fmt.Println("  resend-code -email EMAIL                          - resend the confirmation code")
	fmt.Println("  forgot-password -email EMAIL                      - start a password reset")
	fmt.Println("  confirm-forgot -email EMAIL -code CODE            - finish a password reset; the new password is prompted")
	fmt.Println("  whoami                                            - show the signed-in user")
	fmt.Println("  set-name -name \"FULL NAME\"                        - set your display name")
	fmt.Println("  labs                                              - list labs")
	fmt.Println("  lab -id LAB                                       - show one lab")
	fmt.Println("  lock -id LAB | unlock -id LAB                     - set the class-wide lab lock (staff)")
	fmt.Println("  submit -lab LAB -part PART -file VIDEO [-notes N] - upload a video submission")
	fmt.Println("  checkoff -lab LAB -part PART [-notes N]           - self-checkoff, no video")
	fmt.Println("  queue [-lab LAB] [-part PART] [-sort KEY] [-dir asc|desc] - review queue (staff)")
	fmt.Println("  approve -id SUB [-feedback F]                     - approve a submission (staff)")
	fmt.Println("  reject -id SUB -feedback F                        - reject a submission (staff)")
	fmt.Println("  students                                          - list the roster (staff)")
	fmt.Println("  progress -student ID                              - per-student progress (staff)")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch cmd := args[1]; cmd {
	case "signin":
		return cli.signInCmd(ctx, args[2:])
	case "signout":
		return cli.manager.SignOut(ctx)
	case "signup":
		return cli.signUpCmd(ctx, args[2:])
	case "confirm-signup":
		return cli.confirmSignUpCmd(ctx, args[2:])
	case "resend-code":
		return cli.emailCmd(ctx, cmd, args[2:], cli.manager.ResendVerificationCode)
	case "forgot-password":
		return cli.emailCmd(ctx, cmd, args[2:], cli.manager.ForgotPassword)
	case "confirm-forgot":
		return cli.confirmForgotCmd(ctx, args[2:])
	case "whoami":
		return cli.whoAmICmd(ctx)
	case "set-name":
		return cli.setNameCmd(ctx, args[2:])
	case "labs":
		return cli.labsCmd(ctx)
	case "lab":
		return cli.labCmd(ctx, args[2:])
	case "lock":
		return cli.lockCmd(ctx, args[2:], true)
	case "unlock":
		return cli.lockCmd(ctx, args[2:], false)
	case "submit":
		return cli.submitCmd(ctx, args[2:])
	case "checkoff":
		return cli.checkoffCmd(ctx, args[2:])
	case "queue":
		return cli.queueCmd(ctx, args[2:])
	case "approve":
		return cli.decideCmd(ctx, cmd, args[2:], cli.reviewer.Approve)
	case "reject":
		return cli.decideCmd(ctx, cmd, args[2:], cli.reviewer.Reject)
	case "students":
		return cli.studentsCmd(ctx)
	case "progress":
		return cli.progressCmd(ctx, args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

// requireAuth re-derives auth state from the cached tokens and fails when
// the user ends up signed out.
func (cli *commandLine) requireAuth(ctx context.Context) (session.AuthState, error) {
	if err := cli.manager.CheckAuthState(ctx); err != nil {
		return session.AuthState{}, err
	}
	st := cli.manager.State()
	if !st.IsAuthenticated() {
		return st, errSignedOut
	}
	return st, nil
}

func (cli *commandLine) requireStaff(ctx context.Context) (session.AuthState, error) {
	st, err := cli.requireAuth(ctx)
	if err != nil {
		return st, err
	}
	if !st.User.IsStaff() {
		return st, errStaffOnly
	}
	return st, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func parseEmailFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	email := fs.String("email", "", "The account's email address.")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *email == "" {
		fs.Usage()
		return "", errHelp
	}
	return *email, nil
}
