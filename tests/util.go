package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/storage/database"
)

// Logger records log entries for assertions.
type Logger struct {
	mutex   sync.Mutex
	Entries []LogEntry
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

// Count returns how many entries were logged at level.
func (l *Logger) Count(level string) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	n := 0
	for _, e := range l.Entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Publisher records published events. Err, when set, fails every publish.
type Publisher struct {
	mutex  sync.Mutex
	Events []attendance.Event
	Err    error
}

var _ attendance.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(_ context.Context, ev attendance.Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, ev)
	return nil
}

func (p *Publisher) Published() []attendance.Event {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]attendance.Event(nil), p.Events...)
}

// OpenDB connects to the postgres database at TEST_DATABASE_URL, migrates it and empties it.
// The test is skipped when the variable is not set.
func OpenDB(t *testing.T) *sqlx.DB {
	dataSource := os.Getenv("TEST_DATABASE_URL")
	if dataSource == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.OpenURL(dataSource)
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db.DB); err != nil {
		t.Fatalf("OpenDB() failed to migrate: %v", err)
	}
	ResetDB(t, db)
	return db
}

func ResetDB(t *testing.T, db *sqlx.DB) {
	q := "TRUNCATE attendance, class_students, classes, students, users RESTART IDENTITY CASCADE"
	if _, err := db.Exec(q); err != nil {
		t.Fatalf("ResetDB() failed: %v", err)
	}
}

func CreateUser(t *testing.T, db *sqlx.DB, username, role string) int64 {
	var id int64
	q := "INSERT INTO users (username, role) VALUES ($1, $2) RETURNING id"
	if err := db.Get(&id, q, username, role); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return id
}

func CreateStudent(t *testing.T, db *sqlx.DB, name string, isTrial bool) int64 {
	var id int64
	q := "INSERT INTO students (name, is_trial) VALUES ($1, $2) RETURNING id"
	if err := db.Get(&id, q, name, isTrial); err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return id
}

// CreateClass inserts a class held on day at start (e.g. "Friday", "09:00:00").
func CreateClass(t *testing.T, db *sqlx.DB, name string, teacherID int64, day, start string) attendance.Class {
	cls := attendance.Class{
		Name:      name,
		StartTime: null.StringFrom(start),
		Day:       null.StringFrom(day),
	}
	if teacherID > 0 {
		cls.TeacherID = null.Int64From(teacherID)
	}
	q := `INSERT INTO classes (name, teacher_id, start_time, day)
		VALUES ($1, $2, $3::time, $4) RETURNING id`
	if err := db.Get(&cls.ID, q, cls.Name, cls.TeacherID, cls.StartTime, cls.Day); err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return cls
}

func Enroll(t *testing.T, db *sqlx.DB, classID, studentID int64) {
	q := "INSERT INTO class_students (class_id, student_id) VALUES ($1, $2)"
	if _, err := db.Exec(q, classID, studentID); err != nil {
		t.Fatalf("Enroll(%d, %d) failed: %v", classID, studentID, err)
	}
}

// MustDate parses a YYYY-MM-DD day.
func MustDate(t *testing.T, s string) time.Time {
	d, err := core.ParseDate(s, time.UTC)
	if err != nil {
		t.Fatalf("MustDate(%q) failed: %v", s, err)
	}
	return d
}
