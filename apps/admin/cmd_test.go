package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type sweeperMock struct {
	calls []time.Time
	res   attendance.SweepResult
	err   error
}

func (s *sweeperMock) Sweep(_ context.Context, now time.Time) (attendance.SweepResult, error) {
	s.calls = append(s.calls, now)
	return s.res, s.err
}

func setup(t *testing.T) (*commandLine, *bytes.Buffer, *sweeperMock) {
	var out bytes.Buffer
	sweeper := &sweeperMock{res: attendance.SweepResult{Classes: 1, Inserted: 3}}
	return &commandLine{
		conf:    core.NewTestConfig(),
		out:     &out,
		sweeper: sweeper,
	}, &out, sweeper
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkRun(t *testing.T, cli *commandLine, tt cliTest) {
	args := append([]string{"admin"}, tt.args...)

	err := cli.run(args)
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_run(t *testing.T) {
	cli, _, _ := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRun(t, cli, tt)
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "rooms", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkRun(t, cli, tt)
		})
	}
}

func Test_commandLine_token(t *testing.T) {
	tests := []cliTest{
		{name: "no args", args: []string{"token"}, wantErr: errHelp},
		{name: "no role", args: []string{"token", "-user", "3"}, wantErr: errHelp},
		{name: "unknown role", args: []string{"token", "-user", "3", "-role", "janitor"}, wantErr: errHelp},
		{name: "invalid user", args: []string{"token", "-user", "0", "-role", "teacher"}, wantErr: errHelp},
		{
			name:  "teacher token",
			args:  []string{"token", "-user", "3", "-role", "teacher", "-username", "mwalimu"},
			extra: core.Actor{ID: 3, Username: "mwalimu", Role: core.RoleTeacher},
		},
		{
			name:  "student token",
			args:  []string{"token", "-user", "42", "-role", "student"},
			extra: core.Actor{ID: 42, Role: core.RoleStudent},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, out, _ := setup(t)
			checkRun(t, cli, tt)

			want, ok := tt.extra.(core.Actor)
			if !ok {
				return
			}
			claims, err := echoapi.ParseToken(cli.conf, strings.TrimSpace(out.String()))
			require.NoError(t, err)
			actor, err := claims.Actor()
			require.NoError(t, err)
			assert.Equal(t, want, actor)
		})
	}
}

func Test_commandLine_sweep(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []cliTest{
		{name: "invalid instant", args: []string{"sweep", "-at", "yesterday"}, wantErr: errHelp},
		{name: "at instant", args: []string{"sweep", "-at", at.Format(time.RFC3339)}, extra: at},
		{name: "now", args: []string{"sweep"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, out, sweeper := setup(t)
			checkRun(t, cli, tt)
			if tt.wantErr != nil {
				assert.Empty(t, sweeper.calls)
				return
			}

			require.Len(t, sweeper.calls, 1)
			if want, ok := tt.extra.(time.Time); ok {
				assert.True(t, want.Equal(sweeper.calls[0]))
			}
			assert.Equal(t, "swept 1 classes, marked 3 students absent\n", out.String())
		})
	}
}

func Test_commandLine_setUp(t *testing.T) {
	cli, _, _ := setup(t)

	calls := 0
	cli.setUp = func(*commandLine) error {
		calls++
		return nil
	}
	gooseRunFunc = func(string, *sql.DB, ...string) error { return nil }

	require.NoError(t, cli.run([]string{"admin", "migrate", "status"}))
	require.NoError(t, cli.run([]string{"admin", "sweep"}))
	require.NoError(t, cli.run([]string{"admin", "token", "-user", "1", "-role", "admin"}))
	assert.Equal(t, 1, calls, "storage must only be set up once")
}
