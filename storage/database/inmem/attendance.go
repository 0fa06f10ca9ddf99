package inmemdb

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type attendanceRepository struct {
	db *DB
}

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

// Records returns a snapshot of the committed attendance rows, ordered by ID.
func (db *DB) Records() []attendance.Record {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	recs := make([]attendance.Record, 0, len(db.attendance.table))
	for _, rec := range db.attendance.table {
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

func (repo *attendanceRepository) GetClass(ctx context.Context, id int64) (attendance.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if cls, ok := repo.db.classes[id]; ok {
		return *cls, nil
	}
	return attendance.Class{}, attendance.ErrClassNotFound
}

func (repo *attendanceRepository) ClassesOn(ctx context.Context, days ...time.Weekday) ([]attendance.Class, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	classes := make([]attendance.Class, 0)
	for _, cls := range repo.db.classes {
		if !cls.StartTime.Valid || !cls.Day.Valid {
			continue
		}
		for _, day := range days {
			if strings.EqualFold(strings.TrimSpace(cls.Day.String), day.String()) {
				classes = append(classes, *cls)
				break
			}
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	return classes, nil
}

func (repo *attendanceRepository) Roster(ctx context.Context, classID int64, date time.Time) ([]attendance.RosterEntry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	roster := make([]attendance.RosterEntry, 0, len(repo.db.enrolments[classID]))
	for _, enr := range repo.db.enrolments[classID] {
		st, ok := repo.db.students[enr.StudentID]
		if !ok {
			continue
		}
		entry := attendance.RosterEntry{
			StudentID:   st.ID,
			StudentName: st.Name,
			IsTrial:     st.IsTrial,
			TrialCount:  enr.TrialCount,
			Status:      attendance.StatusPending,
		}
		if rec := repo.db.attendance.find(classID, st.ID, date); rec != nil {
			entry.Status = rec.Status
			entry.Method = null.StringFrom(string(rec.Method))
			entry.Timestamp = null.TimeFrom(rec.Timestamp)
			entry.Notes = rec.Notes
		}
		roster = append(roster, entry)
	}
	sort.SliceStable(roster, func(i, j int) bool { return roster[i].StudentName < roster[j].StudentName })
	return roster, nil
}

func (repo *attendanceRepository) StudentClasses(ctx context.Context, studentID int64) ([]attendance.StudentClass, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	classes := make([]attendance.StudentClass, 0)
	for classID, enrolments := range repo.db.enrolments {
		for _, enr := range enrolments {
			if enr.StudentID != studentID {
				continue
			}
			cls, ok := repo.db.classes[classID]
			if !ok {
				break
			}
			sc := attendance.StudentClass{
				ID:        cls.ID,
				Name:      cls.Name,
				StartTime: cls.StartTime,
				EndTime:   cls.EndTime,
				Day:       cls.Day,
			}
			if cls.TeacherID.Valid {
				if teacher, ok := repo.db.users[cls.TeacherID.Int64]; ok {
					sc.TeacherName = null.StringFrom(teacher.Username)
				}
			}
			classes = append(classes, sc)
			break
		}
	}
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Day.String != classes[j].Day.String {
			return classes[i].Day.String < classes[j].Day.String
		}
		return classes[i].StartTime.String < classes[j].StartTime.String
	})
	return classes, nil
}

func (repo *attendanceRepository) StudentHistory(ctx context.Context, studentID int64, limit int) ([]attendance.HistoryEntry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	recs := make([]*attendance.Record, 0)
	for _, rec := range repo.db.attendance.table {
		if rec.StudentID == studentID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].AttendanceDate.Equal(recs[j].AttendanceDate) {
			return recs[i].AttendanceDate.After(recs[j].AttendanceDate)
		}
		return recs[i].ID > recs[j].ID
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	history := make([]attendance.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entry := attendance.HistoryEntry{
			Status:         rec.Status,
			Notes:          rec.Notes,
			AttendanceDate: rec.AttendanceDate,
		}
		if cls, ok := repo.db.classes[rec.ClassID]; ok {
			entry.ClassName = cls.Name
		}
		history = append(history, entry)
	}
	return history, nil
}

// Begin locks the whole database until the transaction ends. Writes are staged on a copy of the table.
func (repo *attendanceRepository) Begin(ctx context.Context) (attendance.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.mutex.Lock()
	return &tx{db: repo.db, staged: repo.db.attendance.clone()}, nil
}

func (t *attendanceTable) clone() *attendanceTable {
	c := &attendanceTable{pk: t.pk, table: make(map[int64]*attendance.Record, len(t.table))}
	for id, rec := range t.table {
		cp := *rec
		c.table[id] = &cp
	}
	return c
}

func (t *attendanceTable) find(classID, studentID int64, date time.Time) *attendance.Record {
	for _, rec := range t.table {
		if rec.ClassID == classID && rec.StudentID == studentID && rec.AttendanceDate.Equal(date) {
			return rec
		}
	}
	return nil
}

func (t *attendanceTable) insert(rec attendance.Record) int64 {
	t.pk++
	rec.ID = t.pk
	t.table[rec.ID] = &rec
	return rec.ID
}

type tx struct {
	db     *DB
	staged *attendanceTable
	writes int
	done   bool
}

func (t *tx) write(ctx context.Context) error {
	if t.done {
		return sql.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.db.failAfter >= 0 && t.writes >= t.db.failAfter {
		return t.db.failErr
	}
	t.writes++
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.attendance = t.staged
	t.db.mutex.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mutex.Unlock()
	return nil
}

func (t *tx) UpsertRecord(ctx context.Context, rec attendance.Record, withNotes bool) (int64, bool, error) {
	if err := t.write(ctx); err != nil {
		return 0, false, err
	}
	if existing := t.staged.find(rec.ClassID, rec.StudentID, rec.AttendanceDate); existing != nil {
		existing.Status = rec.Status
		existing.Method = rec.Method
		existing.Timestamp = rec.Timestamp
		if withNotes {
			existing.Notes = rec.Notes
		}
		return existing.ID, false, nil
	}
	if !withNotes {
		rec.Notes = null.String{}
	}
	return t.staged.insert(rec), true, nil
}

func (t *tx) DeleteSession(ctx context.Context, classID int64, date time.Time) (int64, error) {
	if err := t.write(ctx); err != nil {
		return 0, err
	}
	var n int64
	for id, rec := range t.staged.table {
		if rec.ClassID == classID && rec.AttendanceDate.Equal(date) {
			delete(t.staged.table, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertAbsentees(ctx context.Context, classID int64, date, at time.Time, anyDate bool) ([]int64, error) {
	if err := t.write(ctx); err != nil {
		return nil, err
	}
	inserted := make([]int64, 0)
	for _, enr := range t.db.enrolments[classID] {
		if t.hasRecord(classID, enr.StudentID, date, anyDate) {
			continue
		}
		t.staged.insert(attendance.Record{
			ClassID:        classID,
			StudentID:      enr.StudentID,
			AttendanceDate: date,
			Status:         attendance.StatusAbsent,
			Method:         attendance.MethodAuto,
			Timestamp:      at,
		})
		inserted = append(inserted, enr.StudentID)
	}
	return inserted, nil
}

func (t *tx) hasRecord(classID, studentID int64, date time.Time, anyDate bool) bool {
	if !anyDate {
		return t.staged.find(classID, studentID, date) != nil
	}
	for _, rec := range t.staged.table {
		if rec.ClassID == classID && rec.StudentID == studentID {
			return true
		}
	}
	return false
}
