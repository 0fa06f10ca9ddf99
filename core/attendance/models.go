package attendance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core"
)

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusPending Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusPending:
		return true
	}
	return false
}

type Method string

const (
	MethodManual Method = "manual"
	MethodAuto   Method = "auto"
)

func (m Method) Valid() bool {
	return m == MethodManual || m == MethodAuto
}

// Record is one student's attendance for one class on one calendar day.
type Record struct {
	ID             int64       `json:"id" db:"id"`
	ClassID        int64       `json:"classId" db:"class_id"`
	StudentID      int64       `json:"studentId" db:"student_id"`
	AttendanceDate time.Time   `json:"attendanceDate" db:"attendance_date"`
	Status         Status      `json:"status" db:"status"`
	Method         Method      `json:"method" db:"method"`
	Notes          null.String `json:"notes" db:"notes"`
	Timestamp      time.Time   `json:"timestamp" db:"timestamp"`
}

func (rec Record) Event() Event {
	return NewEvent(rec.ClassID, rec.StudentID, rec.Status, rec.Method, rec.Timestamp)
}

type Class struct {
	ID        int64       `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	TeacherID null.Int64  `json:"teacher_id" db:"teacher_id"`
	StartTime null.String `json:"start_time" db:"start_time"`
	EndTime   null.String `json:"end_time" db:"end_time"`
	Day       null.String `json:"day" db:"day"`
}

// RosterEntry is one enrolled student along with their attendance for a given day.
// Status is "pending" when no record exists yet.
type RosterEntry struct {
	StudentID   int64       `json:"student_id" db:"student_id"`
	StudentName string      `json:"student_name" db:"student_name"`
	IsTrial     bool        `json:"is_trial" db:"is_trial"`
	TrialCount  int         `json:"trial_count" db:"trial_count"`
	Status      Status      `json:"status" db:"status"`
	Method      null.String `json:"method" db:"method"`
	Timestamp   null.Time   `json:"timestamp" db:"timestamp"`
	Notes       null.String `json:"notes" db:"notes"`
}

type StudentClass struct {
	ID          int64       `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	StartTime   null.String `json:"start_time" db:"start_time"`
	EndTime     null.String `json:"end_time" db:"end_time"`
	Day         null.String `json:"day" db:"day"`
	TeacherName null.String `json:"teacher_name" db:"teacher_name"`
}

type HistoryEntry struct {
	Status         Status      `json:"status" db:"status"`
	Notes          null.String `json:"notes" db:"notes"`
	AttendanceDate time.Time   `json:"attendance_date" db:"attendance_date"`
	ClassName      string      `json:"class_name" db:"class_name"`
}

// NewRecord is the input of a single-record save.
// Method defaults to manual and Date to the submission time.
type NewRecord struct {
	ClassID   int64  `json:"class_id" validate:"required"`
	StudentID int64  `json:"student_id" validate:"required"`
	Status    Status `json:"status" validate:"required,attendance_status"`
	Method    Method `json:"method" validate:"omitempty,attendance_method"`
	Date      string `json:"date" validate:"omitempty,calendar_date"`
}

func (nr NewRecord) Validate(validate *validator.Validate) error {
	return validate.Struct(nr)
}

// check guards the service against callers that skipped Validate.
func (nr NewRecord) check() error {
	switch {
	case nr.ClassID == 0:
		return requiredError("class_id")
	case nr.StudentID == 0:
		return requiredError("student_id")
	case nr.Status == "":
		return requiredError("status")
	case !nr.Status.Valid():
		return core.NewValidationError(nil, core.FieldError{Field: "status", Error: statusText})
	case !nr.Method.Valid():
		return core.NewValidationError(nil, core.FieldError{Field: "method", Error: methodText})
	}
	return nil
}

// BulkEntry is one line of a bulk save. Entries missing StudentID or Status are skipped, not rejected.
type BulkEntry struct {
	StudentID int64  `json:"student_id"`
	Status    Status `json:"status"`
	Notes     string `json:"notes"`
}

// UnmarshalJSON decodes an entry leniently: a student id may be sent as a number or a numeric string,
// and a field of the wrong type is left zero so the entry gets skipped instead of failing the whole batch.
func (be *BulkEntry) UnmarshalJSON(data []byte) error {
	*be = BulkEntry{}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	be.StudentID = lenientID(fields["student_id"])
	var status string
	if json.Unmarshal(fields["status"], &status) == nil {
		be.Status = Status(status)
	}
	_ = json.Unmarshal(fields["notes"], &be.Notes)
	return nil
}

func lenientID(raw json.RawMessage) int64 {
	var id int64
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

func (be BulkEntry) valid() bool {
	return be.StudentID != 0 && be.Status.Valid()
}

type NewBulk struct {
	ClassID int64       `json:"class_id" validate:"required"`
	Date    string      `json:"date" validate:"required,calendar_date"`
	Records []BulkEntry `json:"attendance_data" validate:"required,min=1"`
}

func (nb NewBulk) Validate(validate *validator.Validate) error {
	return validate.Struct(nb)
}

func (nb NewBulk) check() error {
	switch {
	case nb.ClassID == 0:
		return requiredError("class_id")
	case nb.Date == "":
		return requiredError("date")
	case len(nb.Records) == 0:
		return requiredError("attendance_data")
	}
	return nil
}

func requiredError(field string) error {
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: "this field is required"})
}

type CancelSession struct {
	ClassID int64  `json:"class_id" validate:"required"`
	Date    string `json:"date" validate:"required,calendar_date"`
}

func (cs CancelSession) Validate(validate *validator.Validate) error {
	return validate.Struct(cs)
}

type RecordResult struct {
	ID      int64
	Created bool
}

type BulkResult struct {
	Saved   int
	Skipped int
	Created int
	Updated int
}

type SweepResult struct {
	Classes  int
	Inserted int
}

// EventName is the name attendance changes are delivered under.
const EventName = "attendance_updated"

// timestampLayout matches the ISO-8601 form clients already parse (millisecond precision, Zulu).
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Event is the wire payload of an attendance change.
type Event struct {
	ClassID   int64  `json:"classId"`
	StudentID int64  `json:"studentId"`
	Status    Status `json:"status"`
	Method    Method `json:"method"`
	Timestamp string `json:"timestamp"`
}

func NewEvent(classID, studentID int64, status Status, method Method, at time.Time) Event {
	return Event{
		ClassID:   classID,
		StudentID: studentID,
		Status:    status,
		Method:    method,
		Timestamp: at.UTC().Format(timestampLayout),
	}
}

// Channel is the name of the channel the event is published on.
func (ev Event) Channel() string {
	return ChannelName(ev.ClassID)
}

func ChannelName(classID int64) string {
	return fmt.Sprintf("class_%d", classID)
}
