package main

import (
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/services/events"
	logsvc "github.com/trezcool/mahudhurio/services/logger"
	"github.com/trezcool/mahudhurio/storage/database"
	sqlxrepos "github.com/trezcool/mahudhurio/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.New(os.Stdout, "ADMIN : ", conf)

	var closer io.Closer
	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		setUp: func(cli *commandLine) error {
			db, err := database.Open(conf)
			if err != nil {
				return err
			}
			closer = db
			cli.db = db.DB

			// this process has no WebSocket clients: the events only reach the local hub
			hub := events.NewHub(logger, nil)
			cli.sweeper = attendance.NewService(sqlxrepos.NewAttendanceRepository(db), hub, conf, logger, clock.WallClock, nil)
			return nil
		},
	}

	err := cli.run(os.Args)
	if closer != nil {
		if cErr := closer.Close(); cErr != nil {
			logger.Error(fmt.Sprintf("closing database: %v", cErr), cErr)
		}
	}
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}
