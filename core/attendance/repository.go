package attendance

import (
	"context"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

type (
	// Repository is the persistence contract of the attendance kernel.
	// Reads run outside of any transaction; every write goes through a Tx.
	Repository interface {
		GetClass(ctx context.Context, id int64) (Class, error)
		// ClassesOn returns the scheduled classes held on any of the given weekdays.
		ClassesOn(ctx context.Context, days ...time.Weekday) ([]Class, error)
		Roster(ctx context.Context, classID int64, date time.Time) ([]RosterEntry, error)
		StudentClasses(ctx context.Context, studentID int64) ([]StudentClass, error)
		StudentHistory(ctx context.Context, studentID int64, limit int) ([]HistoryEntry, error)
		Begin(ctx context.Context) (Tx, error)
	}

	Tx interface {
		core.DBTransactor

		// UpsertRecord inserts rec or, when a record already exists for its (class, student, date),
		// updates status, method and timestamp in place. Notes are only overwritten when withNotes is set.
		UpsertRecord(ctx context.Context, rec Record, withNotes bool) (id int64, created bool, err error)
		// DeleteSession removes every record of the class on the given day.
		DeleteSession(ctx context.Context, classID int64, date time.Time) (int64, error)
		// InsertAbsentees marks absent every roster member without a record and returns their ids.
		// With anyDate set, a record of any day counts.
		InsertAbsentees(ctx context.Context, classID int64, date, at time.Time, anyDate bool) ([]int64, error)
	}

	// Publisher delivers attendance events to interested clients.
	Publisher interface {
		Publish(ctx context.Context, ev Event) error
	}

	Metrics interface {
		ObserveWrite(op string, err error)
		ObserveSkipped(n int)
		ObserveSweep(inserted int, err error)
	}
)

type noopMetrics struct{}

func (noopMetrics) ObserveWrite(string, error) {}
func (noopMetrics) ObserveSkipped(int)         {}
func (noopMetrics) ObserveSweep(int, error)    {}
