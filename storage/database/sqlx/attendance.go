package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

const (
	classColumns = `id, name, teacher_id, start_time::text AS start_time, end_time::text AS end_time, day`

	upsertRecordQuery = `
		INSERT INTO attendance (class_id, student_id, attendance_date, status, method, notes, timestamp)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT attendance_class_student_date_key DO UPDATE
		SET status = EXCLUDED.status, method = EXCLUDED.method, timestamp = EXCLUDED.timestamp
		RETURNING id, (xmax = 0) AS created`

	upsertRecordWithNotesQuery = `
		INSERT INTO attendance (class_id, student_id, attendance_date, status, method, notes, timestamp)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT attendance_class_student_date_key DO UPDATE
		SET status = EXCLUDED.status, method = EXCLUDED.method, timestamp = EXCLUDED.timestamp, notes = EXCLUDED.notes
		RETURNING id, (xmax = 0) AS created`

	insertAbsenteesQuery = `
		INSERT INTO attendance (class_id, student_id, attendance_date, status, method, timestamp)
		SELECT cs.class_id, cs.student_id, $2::date, 'absent', 'auto', $3
		FROM class_students cs
		WHERE cs.class_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM attendance a
		      WHERE a.class_id = cs.class_id AND a.student_id = cs.student_id
		        AND ($4 OR a.attendance_date = $2::date)
		  )
		ORDER BY cs.student_id
		ON CONFLICT ON CONSTRAINT attendance_class_student_date_key DO NOTHING
		RETURNING student_id`
)

type attendanceRepository struct {
	db *sqlx.DB
}

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func dateParam(t time.Time) string {
	return t.Format(core.DateLayout)
}

func (repo *attendanceRepository) GetClass(ctx context.Context, id int64) (attendance.Class, error) {
	var cls attendance.Class
	err := repo.db.GetContext(ctx, &cls, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return attendance.Class{}, attendance.ErrClassNotFound
		}
		return attendance.Class{}, errors.Wrap(err, "selecting class")
	}
	return cls, nil
}

func (repo *attendanceRepository) ClassesOn(ctx context.Context, days ...time.Weekday) ([]attendance.Class, error) {
	names := make([]string, 0, len(days))
	for _, day := range days {
		names = append(names, strings.ToLower(day.String()))
	}
	classes := make([]attendance.Class, 0)
	err := repo.db.SelectContext(ctx, &classes, `
		SELECT `+classColumns+` FROM classes
		WHERE start_time IS NOT NULL AND lower(trim(day)) = ANY($1)
		ORDER BY id`,
		pq.Array(names),
	)
	return classes, errors.Wrap(err, "selecting classes by day")
}

func (repo *attendanceRepository) Roster(ctx context.Context, classID int64, date time.Time) ([]attendance.RosterEntry, error) {
	roster := make([]attendance.RosterEntry, 0)
	err := repo.db.SelectContext(ctx, &roster, `
		SELECT s.id AS student_id,
		       s.name AS student_name,
		       s.is_trial,
		       cs.trial_count,
		       COALESCE(a.status, 'pending') AS status,
		       a.method,
		       a.timestamp,
		       a.notes
		FROM class_students cs
		JOIN students s ON cs.student_id = s.id
		LEFT JOIN attendance a
		       ON a.student_id = s.id AND a.class_id = cs.class_id AND a.attendance_date = $2::date
		WHERE cs.class_id = $1
		ORDER BY s.name`,
		classID, dateParam(date),
	)
	return roster, errors.Wrap(err, "selecting roster")
}

func (repo *attendanceRepository) StudentClasses(ctx context.Context, studentID int64) ([]attendance.StudentClass, error) {
	classes := make([]attendance.StudentClass, 0)
	err := repo.db.SelectContext(ctx, &classes, `
		SELECT c.id, c.name, c.start_time::text AS start_time, c.end_time::text AS end_time, c.day,
		       u.username AS teacher_name
		FROM classes c
		JOIN class_students cs ON c.id = cs.class_id
		LEFT JOIN users u ON c.teacher_id = u.id
		WHERE cs.student_id = $1
		ORDER BY c.day, c.start_time`,
		studentID,
	)
	return classes, errors.Wrap(err, "selecting student classes")
}

func (repo *attendanceRepository) StudentHistory(ctx context.Context, studentID int64, limit int) ([]attendance.HistoryEntry, error) {
	history := make([]attendance.HistoryEntry, 0)
	err := repo.db.SelectContext(ctx, &history, `
		SELECT a.status, a.notes, a.attendance_date, c.name AS class_name
		FROM attendance a
		JOIN classes c ON a.class_id = c.id
		WHERE a.student_id = $1
		ORDER BY a.attendance_date DESC, a.id DESC
		LIMIT $2`,
		studentID, limit,
	)
	return history, errors.Wrap(err, "selecting student history")
}

func (repo *attendanceRepository) Begin(ctx context.Context) (attendance.Tx, error) {
	sqlTx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{Tx: sqlTx}, nil
}

type tx struct {
	*sqlx.Tx
}

func (t *tx) UpsertRecord(ctx context.Context, rec attendance.Record, withNotes bool) (int64, bool, error) {
	query := upsertRecordQuery
	if withNotes {
		query = upsertRecordWithNotesQuery
	}

	var res struct {
		ID      int64 `db:"id"`
		Created bool  `db:"created"`
	}
	err := t.GetContext(ctx, &res, query,
		rec.ClassID, rec.StudentID, dateParam(rec.AttendanceDate), rec.Status, rec.Method, rec.Notes, rec.Timestamp,
	)
	if err != nil {
		return 0, false, errors.Wrap(err, "upserting attendance")
	}
	return res.ID, res.Created, nil
}

func (t *tx) DeleteSession(ctx context.Context, classID int64, date time.Time) (int64, error) {
	res, err := t.ExecContext(ctx,
		`DELETE FROM attendance WHERE class_id = $1 AND attendance_date = $2::date`,
		classID, dateParam(date),
	)
	if err != nil {
		return 0, errors.Wrap(err, "deleting attendance")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "counting deleted attendance")
}

func (t *tx) InsertAbsentees(ctx context.Context, classID int64, date, at time.Time, anyDate bool) ([]int64, error) {
	studentIDs := make([]int64, 0)
	err := t.SelectContext(ctx, &studentIDs, insertAbsenteesQuery, classID, dateParam(date), at, anyDate)
	return studentIDs, errors.Wrap(err, "inserting absentees")
}
