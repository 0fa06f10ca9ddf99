package dig_container

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/services/events"
	logsvc "github.com/trezcool/mahudhurio/services/logger"
	metricsvc "github.com/trezcool/mahudhurio/services/metrics"
	"github.com/trezcool/mahudhurio/storage/database"
	inmemdb "github.com/trezcool/mahudhurio/storage/database/inmem"
	sqlxrepos "github.com/trezcool/mahudhurio/storage/database/sqlx"
)

const engineMemory = "memory"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	WorkerLoggerParam struct {
		dig.In
		Logger core.Logger `name:"workerLogger"`
	}
)

func newLogger(conf *core.Config) core.Logger {
	return logsvc.New(os.Stdout, "API : ", conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.New(os.Stdout, "DB : ", conf)
}

func newWorkerLogger(conf *core.Config) core.Logger {
	return logsvc.New(os.Stdout, "WORKER : ", conf)
}

// newRepository opens the configured storage. The returned io.Closer releases it.
func newRepository(conf *core.Config, loggerParam DBLoggerParam) (attendance.Repository, io.Closer) {
	logger := loggerParam.Logger

	if conf.Database.Engine == engineMemory {
		db, _ := inmemdb.Open()
		logger.Info("using the in-memory database")
		return inmemdb.NewAttendanceRepository(db), db
	}

	setUp := func() (attendance.Repository, io.Closer, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return sqlxrepos.NewAttendanceRepository(db), db, nil
	}

	repo, closer, err := setUp()
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return repo, closer
}

func newClock() clock.Clock {
	return clock.WallClock
}

func newHub(logger core.Logger, metrics *metricsvc.Collector) *events.Hub {
	return events.NewHub(logger, metrics)
}

func newService(
	repo attendance.Repository,
	hub *events.Hub,
	conf *core.Config,
	logger core.Logger,
	clk clock.Clock,
	metrics *metricsvc.Collector,
) attendance.ServiceInterface {
	return attendance.NewService(repo, hub, conf, logger, clk, metrics)
}

func newConnectionMetrics(metrics *metricsvc.Collector) echoapi.ConnectionMetrics {
	return metrics
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newWorkerLogger, dig.Name("workerLogger")))
	must(c.Provide(newRepository))
	must(c.Provide(newClock))
	must(c.Provide(metricsvc.NewCollector))
	must(c.Provide(newConnectionMetrics))
	must(c.Provide(newHub))
	must(c.Provide(newService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
