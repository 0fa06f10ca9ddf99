package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core"
)

const (
	opRecord = "record"
	opBulk   = "bulk"
	opCancel = "cancel"

	defaultHistoryLimit = 10
)

// MaxHistoryLimit bounds the records returned by one history read.
const MaxHistoryLimit = 100

type (
	ServiceInterface interface {
		Record(ctx context.Context, actor core.Actor, nr NewRecord) (RecordResult, error)
		RecordBulk(ctx context.Context, actor core.Actor, nb NewBulk) (BulkResult, error)
		CancelSession(ctx context.Context, actor core.Actor, cs CancelSession) (int64, error)
		Roster(ctx context.Context, actor core.Actor, classID int64, date string) ([]RosterEntry, error)
		StudentClasses(ctx context.Context, studentID int64) ([]StudentClass, error)
		StudentHistory(ctx context.Context, studentID int64, limit int) ([]HistoryEntry, error)
		Sweep(ctx context.Context, now time.Time) (SweepResult, error)
	}

	Service struct {
		repo      Repository
		publisher Publisher
		logger    core.Logger
		clock     clock.Clock
		metrics   Metrics
		loc       *time.Location
		poller    core.PollerConfig
	}
)

var _ ServiceInterface = (*Service)(nil)

// NewService wires the attendance kernel. A nil Metrics disables instrumentation.
func NewService(
	repo Repository,
	publisher Publisher,
	conf *core.Config,
	logger core.Logger,
	clk clock.Clock,
	metrics Metrics,
) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		clock:     clk,
		metrics:   metrics,
		loc:       conf.Location(),
		poller:    conf.Poller,
	}
}

func (svc *Service) begin(ctx context.Context) (Tx, error) {
	return svc.repo.Begin(ctx)
}

// authorize loads the class and makes sure the actor may record its attendance.
func (svc *Service) authorize(ctx context.Context, actor core.Actor, classID int64) (Class, error) {
	cls, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		if errors.Cause(err) == ErrClassNotFound {
			return Class{}, ErrClassNotFound
		}
		return Class{}, errors.Wrap(err, "getting class")
	}
	switch {
	case actor.IsAdmin():
		return cls, nil
	case actor.IsTeacher() && cls.TeacherID.Valid && cls.TeacherID.Int64 == actor.ID:
		return cls, nil
	}
	return Class{}, ErrForbidden
}

// publish runs after commit. The request going away must not drop events of a committed change.
func (svc *Service) publish(ctx context.Context, events []Event) error {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if svc.publisher == nil {
			return errors.New("attendance event publisher not configured")
		}
		if err := svc.publisher.Publish(ctx, ev); err != nil {
			return errors.Wrapf(err, "publishing %s on %s", EventName, ev.Channel())
		}
	}
	return nil
}

// Record saves one student's attendance. The calendar day is taken from Date
// (or the current time) truncated in the business timezone.
func (svc *Service) Record(ctx context.Context, actor core.Actor, nr NewRecord) (res RecordResult, err error) {
	defer func() { svc.metrics.ObserveWrite(opRecord, err) }()

	if nr.Method == "" {
		nr.Method = MethodManual
	}
	if err = nr.check(); err != nil {
		return RecordResult{}, err
	}
	now := svc.clock.Now()
	date := core.CalendarDate(now, svc.loc)
	if nr.Date != "" {
		if date, err = core.ParseDate(nr.Date, svc.loc); err != nil {
			return RecordResult{}, core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
		}
	}
	if _, err = svc.authorize(ctx, actor, nr.ClassID); err != nil {
		return RecordResult{}, err
	}

	rec := Record{
		ClassID:        nr.ClassID,
		StudentID:      nr.StudentID,
		AttendanceDate: date,
		Status:         nr.Status,
		Method:         nr.Method,
		Timestamp:      now,
	}
	err = core.WithTx(ctx, svc.begin, func(tx Tx) error {
		id, created, err := tx.UpsertRecord(ctx, rec, false)
		if err != nil {
			return errors.Wrap(err, "upserting attendance record")
		}
		res = RecordResult{ID: id, Created: created}
		return nil
	})
	if err != nil {
		return RecordResult{}, err
	}

	if err = svc.publish(ctx, []Event{rec.Event()}); err != nil {
		return res, err
	}
	return res, nil
}

// RecordBulk saves a whole class day in one transaction.
// Entries missing a student or a valid status are skipped and logged; any write failure rolls the batch back.
func (svc *Service) RecordBulk(ctx context.Context, actor core.Actor, nb NewBulk) (res BulkResult, err error) {
	defer func() { svc.metrics.ObserveWrite(opBulk, err) }()

	if err = nb.check(); err != nil {
		return BulkResult{}, err
	}
	date, err := core.ParseDate(nb.Date, svc.loc)
	if err != nil {
		return BulkResult{}, core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
	}
	if _, err = svc.authorize(ctx, actor, nb.ClassID); err != nil {
		return BulkResult{}, err
	}

	now := svc.clock.Now()
	valid := make([]Record, 0, len(nb.Records))
	for i, entry := range nb.Records {
		if !entry.valid() {
			svc.logger.Warn(fmt.Sprintf("skipping invalid attendance entry #%d of class %d", i, nb.ClassID), entry, actor)
			res.Skipped++
			continue
		}
		rec := Record{
			ClassID:        nb.ClassID,
			StudentID:      entry.StudentID,
			AttendanceDate: date,
			Status:         entry.Status,
			Method:         MethodManual,
			Timestamp:      now,
		}
		if notes := core.CleanString(entry.Notes); notes != "" {
			rec.Notes = null.StringFrom(notes)
		}
		valid = append(valid, rec)
	}
	svc.metrics.ObserveSkipped(res.Skipped)

	var created, updated int
	err = core.WithTx(ctx, svc.begin, func(tx Tx) error {
		created, updated = 0, 0
		for _, rec := range valid {
			_, isNew, err := tx.UpsertRecord(ctx, rec, true)
			if err != nil {
				return errors.Wrapf(err, "upserting attendance of student %d", rec.StudentID)
			}
			if isNew {
				created++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{Skipped: res.Skipped}, err
	}
	res.Saved, res.Created, res.Updated = len(valid), created, updated

	events := make([]Event, 0, len(valid))
	for _, rec := range valid {
		events = append(events, rec.Event())
	}
	if err = svc.publish(ctx, events); err != nil {
		return res, err
	}
	return res, nil
}

// CancelSession deletes every record of the class on the given day and returns how many were removed.
func (svc *Service) CancelSession(ctx context.Context, actor core.Actor, cs CancelSession) (n int64, err error) {
	defer func() { svc.metrics.ObserveWrite(opCancel, err) }()

	if cs.ClassID == 0 {
		return 0, requiredError("class_id")
	}
	date, err := core.ParseDate(cs.Date, svc.loc)
	if err != nil {
		return 0, core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
	}
	if !actor.IsAdmin() {
		if _, err = svc.authorize(ctx, actor, cs.ClassID); err != nil {
			if errors.Cause(err) == ErrClassNotFound || errors.Cause(err) == ErrForbidden {
				return 0, ErrCancelForbidden
			}
			return 0, err
		}
	}

	err = core.WithTx(ctx, svc.begin, func(tx Tx) error {
		n, err = tx.DeleteSession(ctx, cs.ClassID, date)
		return errors.Wrap(err, "deleting session records")
	})
	if err != nil {
		return 0, err
	}
	svc.logger.Info(fmt.Sprintf("deleted %d attendance records for class %d on %s", n, cs.ClassID, date.Format(core.DateLayout)), actor)
	return n, nil
}

// Roster lists every enrolled student of the class with their attendance on date.
func (svc *Service) Roster(ctx context.Context, actor core.Actor, classID int64, date string) ([]RosterEntry, error) {
	day, err := core.ParseDate(date, svc.loc)
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
	}
	if _, err = svc.authorize(ctx, actor, classID); err != nil {
		return nil, err
	}
	roster, err := svc.repo.Roster(ctx, classID, day)
	return roster, errors.Wrap(err, "querying roster")
}

func (svc *Service) StudentClasses(ctx context.Context, studentID int64) ([]StudentClass, error) {
	classes, err := svc.repo.StudentClasses(ctx, studentID)
	return classes, errors.Wrap(err, "querying student classes")
}

func (svc *Service) StudentHistory(ctx context.Context, studentID int64, limit int) ([]HistoryEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	history, err := svc.repo.StudentHistory(ctx, studentID, limit)
	return history, errors.Wrap(err, "querying student history")
}

// Sweep marks absent every roster member of the classes starting around now that has no record yet.
// Each class is written in its own transaction; a failing class does not stop the others.
func (svc *Service) Sweep(ctx context.Context, now time.Time) (res SweepResult, err error) {
	inserted := 0
	defer func() { svc.metrics.ObserveSweep(inserted, err) }()

	from, to := now.Add(-svc.poller.WindowBefore), now.Add(svc.poller.WindowAfter)
	days := weekdaysBetween(from.In(svc.loc), to.In(svc.loc))
	classes, err := svc.repo.ClassesOn(ctx, days...)
	if err != nil {
		return SweepResult{}, errors.Wrap(err, "querying scheduled classes")
	}

	var lastErr error
	for _, cls := range classes {
		date, ok := sessionStarting(cls, from, to, svc.loc)
		if !ok {
			continue
		}
		res.Classes++

		var absentees []int64
		err := core.WithTx(ctx, svc.begin, func(tx Tx) error {
			var err error
			absentees, err = tx.InsertAbsentees(ctx, cls.ID, date, now, svc.poller.AnyDate)
			return errors.Wrapf(err, "inserting absentees of class %d", cls.ID)
		})
		if err != nil {
			svc.logger.Error(fmt.Sprintf("sweeping class %d", cls.ID), err)
			lastErr = err
			continue
		}
		inserted += len(absentees)
		res.Inserted += len(absentees)

		events := make([]Event, 0, len(absentees))
		for _, studentID := range absentees {
			events = append(events, NewEvent(cls.ID, studentID, StatusAbsent, MethodAuto, now))
		}
		if err = svc.publish(ctx, events); err != nil {
			svc.logger.Error(fmt.Sprintf("publishing absentees of class %d", cls.ID), err)
			lastErr = err
		}
	}
	return res, lastErr
}

// weekdaysBetween returns the distinct weekdays touched by the [from, to] interval.
func weekdaysBetween(from, to time.Time) []time.Weekday {
	days := []time.Weekday{from.Weekday()}
	if to.Weekday() != from.Weekday() {
		days = append(days, to.Weekday())
	}
	return days
}

// sessionStarting reports whether a session of cls starts within [from, to] and returns its calendar day.
func sessionStarting(cls Class, from, to time.Time, loc *time.Location) (time.Time, bool) {
	if !cls.StartTime.Valid || !cls.Day.Valid {
		return time.Time{}, false
	}
	hh, mm, ss, ok := parseClockTime(cls.StartTime.String)
	if !ok {
		return time.Time{}, false
	}

	localFrom := from.In(loc)
	y, m, d := localFrom.Date()
	// the window never spans more than two calendar days
	for offset := 0; offset <= 1; offset++ {
		start := time.Date(y, m, d+offset, hh, mm, ss, 0, loc)
		if !strings.EqualFold(start.Weekday().String(), core.CleanString(cls.Day.String)) {
			continue
		}
		if !start.Before(from) && !start.After(to) {
			return core.CalendarDate(start, loc), true
		}
	}
	return time.Time{}, false
}

// parseClockTime parses TIME column values such as "15:04", "15:04:05" or "15:04:05.000000".
func parseClockTime(s string) (hh, mm, ss int, ok bool) {
	s = core.CleanString(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if len(s) < len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s[:len(layout)]); err == nil {
			return t.Hour(), t.Minute(), t.Second(), true
		}
	}
	return 0, 0, 0, false
}
