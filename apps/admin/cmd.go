package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	echoapi "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf    *core.Config
	out     io.Writer
	db      *sql.DB
	sweeper attendance.Sweeper

	// setUp opens the storage before the first command that needs it.
	setUp func(cli *commandLine) error
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...]                         - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  token -user ID -role ROLE [-username USERNAME]   - print a signed API token")
	fmt.Fprintln(cli.out, "  sweep [-at RFC3339]                               - mark absent the students of classes starting at the given instant")
}

func (cli *commandLine) storage() error {
	if cli.setUp == nil {
		return nil
	}
	setUp := cli.setUp
	cli.setUp = nil
	return setUp(cli)
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenUser := tokenCmd.Int64("user", 0, "The user ID (the student ID for students).")
	tokenRole := tokenCmd.String("role", "", "One of admin, teacher or student.")
	tokenUsername := tokenCmd.String("username", "", "The username carried by the token.")

	sweepCmd := flag.NewFlagSet("sweep", flag.ExitOnError)
	sweepAt := sweepCmd.String("at", "", "The RFC 3339 instant to sweep at. Defaults to now.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		if err := cli.storage(); err != nil {
			return err
		}
		return cli.migrate(args[2:])

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUser <= 0 || !validRole(*tokenRole) {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(core.Actor{ID: *tokenUser, Username: *tokenUsername, Role: *tokenRole})

	case "sweep":
		if err := sweepCmd.Parse(args[2:]); err != nil {
			return err
		}
		at := time.Now()
		if *sweepAt != "" {
			var err error
			if at, err = time.Parse(time.RFC3339, *sweepAt); err != nil {
				sweepCmd.Usage()
				return errHelp
			}
		}
		if err := cli.storage(); err != nil {
			return err
		}
		return cli.sweep(at)

	default:
		cli.printUsage()
		return errHelp
	}
}

func validRole(role string) bool {
	switch role {
	case core.RoleAdmin, core.RoleTeacher, core.RoleStudent:
		return true
	}
	return false
}

func (cli *commandLine) token(actor core.Actor) error {
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, actor))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}

func (cli *commandLine) sweep(at time.Time) error {
	res, err := cli.sweeper.Sweep(context.Background(), at)
	fmt.Fprintf(cli.out, "swept %d classes, marked %d students absent\n", res.Classes, res.Inserted)
	return err
}
