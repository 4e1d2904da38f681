package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"gerenciaesportes/internal/auth"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type userStore interface {
	CreateUser(ctx context.Context, in auth.CreateUserInput) (*auth.User, error)
	SetPassword(ctx context.Context, username, password string, mustChange bool) error
}

type commandLine struct {
	migrate func(ctx context.Context, command string, args ...string) error
	users   userStore
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]           - run a goose command (up, down, status, redo, up-to N, ...)")
	fmt.Fprintln(cli.out, "  createadmin -username USERNAME   - create an admin account, password is prompted")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME - replace a user's password, password is prompted")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		if err := cli.migrate(ctx, args[2], args[3:]...); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "migrate %s: done\n", args[2])
		return nil
	case "createadmin":
		uname, pwd, err := cli.usernameAndPassword("createadmin", args[2:])
		if err != nil {
			return err
		}
		u, err := cli.users.CreateUser(ctx, auth.CreateUserInput{
			Username: uname,
			Password: pwd,
			Role:     auth.RoleAdmin,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "admin %q created (id %d)\n", u.Username, u.ID)
		return nil
	case "resetpassword":
		uname, pwd, err := cli.usernameAndPassword("resetpassword", args[2:])
		if err != nil {
			return err
		}
		if err := cli.users.SetPassword(ctx, uname, pwd, false); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "password for %q updated\n", uname)
		return nil
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) usernameAndPassword(name string, args []string) (string, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	uname := fs.String("username", "", "The account username. The password will be prompted next.")
	if err := fs.Parse(args); err != nil {
		return "", "", errHelp
	}
	if strings.TrimSpace(*uname) == "" {
		fs.Usage()
		return "", "", errHelp
	}

	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", "", errHelp
	}
	return strings.TrimSpace(*uname), string(pwd), nil
}
