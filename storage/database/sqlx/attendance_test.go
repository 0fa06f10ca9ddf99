package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	sqlxrepos "github.com/trezcool/mahudhurio/storage/database/sqlx"
	"github.com/trezcool/mahudhurio/tests"
)

var at = time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)

func TestAttendanceRepository(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := sqlxrepos.NewAttendanceRepository(db)
	ctx := context.Background()
	day := testutil.MustDate(t, "2024-03-01")
	nextWeek := testutil.MustDate(t, "2024-03-08")

	teacherID := testutil.CreateUser(t, db, "mwalimu", core.RoleTeacher)
	piano := testutil.CreateClass(t, db, "Piano", teacherID, "Friday", "09:00:00")
	drums := testutil.CreateClass(t, db, "Drums", 0, "Saturday", "10:30:00")
	baraka := testutil.CreateStudent(t, db, "Baraka", false)
	amani := testutil.CreateStudent(t, db, "Amani", true)
	testutil.Enroll(t, db, piano.ID, baraka)
	testutil.Enroll(t, db, piano.ID, amani)
	testutil.Enroll(t, db, drums.ID, amani)

	upsert := func(rec attendance.Record, withNotes bool) (id int64, created bool) {
		t.Helper()
		err := core.WithTx(ctx, repo.Begin, func(tx attendance.Tx) (err error) {
			id, created, err = tx.UpsertRecord(ctx, rec, withNotes)
			return err
		})
		require.NoError(t, err)
		return id, created
	}

	t.Run("GetClass", func(t *testing.T) {
		cls, err := repo.GetClass(ctx, piano.ID)
		require.NoError(t, err)
		assert.Equal(t, "Piano", cls.Name)
		assert.Equal(t, null.Int64From(teacherID), cls.TeacherID)
		assert.Equal(t, null.StringFrom("09:00:00"), cls.StartTime)
		assert.False(t, cls.EndTime.Valid)

		_, err = repo.GetClass(ctx, 404)
		assert.Equal(t, attendance.ErrClassNotFound, err)
	})

	t.Run("ClassesOn", func(t *testing.T) {
		classes, err := repo.ClassesOn(ctx, time.Friday)
		require.NoError(t, err)
		require.Len(t, classes, 1)
		assert.Equal(t, piano.ID, classes[0].ID)

		classes, err = repo.ClassesOn(ctx, time.Friday, time.Saturday)
		require.NoError(t, err)
		assert.Len(t, classes, 2)
	})

	t.Run("UpsertRecord", func(t *testing.T) {
		rec := attendance.Record{
			ClassID:        piano.ID,
			StudentID:      baraka,
			AttendanceDate: day,
			Status:         attendance.StatusPresent,
			Method:         attendance.MethodManual,
			Notes:          null.StringFrom("on time"),
			Timestamp:      at,
		}
		id, created := upsert(rec, true)
		assert.True(t, created)

		rec.Status = attendance.StatusLate
		rec.Notes = null.StringFrom("ignored")
		again, created := upsert(rec, false)
		assert.Equal(t, id, again)
		assert.False(t, created)

		roster, err := repo.Roster(ctx, piano.ID, day)
		require.NoError(t, err)
		require.Len(t, roster, 2)
		assert.Equal(t, "Amani", roster[0].StudentName)
		assert.True(t, roster[0].IsTrial)
		assert.Equal(t, attendance.StatusPending, roster[0].Status)
		assert.Equal(t, "Baraka", roster[1].StudentName)
		assert.Equal(t, attendance.StatusLate, roster[1].Status)
		assert.Equal(t, null.StringFrom("on time"), roster[1].Notes)
		assert.Equal(t, null.StringFrom("manual"), roster[1].Method)
	})

	t.Run("rollback", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := core.WithTx(ctx, repo.Begin, func(tx attendance.Tx) error {
			rec := attendance.Record{ClassID: piano.ID, StudentID: amani, AttendanceDate: day, Status: attendance.StatusPresent, Method: attendance.MethodManual, Timestamp: at}
			if _, _, err := tx.UpsertRecord(ctx, rec, false); err != nil {
				return err
			}
			return errBoom
		})
		assert.Equal(t, errBoom, err)

		roster, err := repo.Roster(ctx, piano.ID, day)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPending, roster[0].Status)
	})

	t.Run("InsertAbsentees", func(t *testing.T) {
		var inserted []int64
		err := core.WithTx(ctx, repo.Begin, func(tx attendance.Tx) (err error) {
			inserted, err = tx.InsertAbsentees(ctx, piano.ID, day, at, false)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{amani}, inserted)

		// Baraka has a record from last week
		err = core.WithTx(ctx, repo.Begin, func(tx attendance.Tx) (err error) {
			inserted, err = tx.InsertAbsentees(ctx, piano.ID, nextWeek, at, true)
			return err
		})
		require.NoError(t, err)
		assert.Empty(t, inserted)

		err = core.WithTx(ctx, repo.Begin, func(tx attendance.Tx) (err error) {
			inserted, err = tx.InsertAbsentees(ctx, piano.ID, nextWeek, at, false)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{baraka, amani}, inserted)
	})

	t.Run("StudentHistory", func(t *testing.T) {
		history, err := repo.StudentHistory(ctx, amani, 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "2024-03-08", history[0].AttendanceDate.Format(core.DateLayout))
		assert.Equal(t, attendance.StatusAbsent, history[0].Status)
		assert.Equal(t, "Piano", history[0].ClassName)

		history, err = repo.StudentHistory(ctx, amani, 1)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("StudentClasses", func(t *testing.T) {
		classes, err := repo.StudentClasses(ctx, amani)
		require.NoError(t, err)
		require.Len(t, classes, 2)
		assert.Equal(t, "Piano", classes[0].Name)
		assert.Equal(t, null.StringFrom("mwalimu"), classes[0].TeacherName)
		assert.Equal(t, "Drums", classes[1].Name)
		assert.False(t, classes[1].TeacherName.Valid)
	})

	t.Run("DeleteSession", func(t *testing.T) {
		var n int64
		err := core.WithTx(ctx, repo.Begin, func(tx attendance.Tx) (err error) {
			n, err = tx.DeleteSession(ctx, piano.ID, nextWeek)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		history, err := repo.StudentHistory(ctx, amani, 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}
