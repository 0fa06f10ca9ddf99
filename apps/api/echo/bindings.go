package echoapi

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// RosterQuery holds the query params of the roster endpoint.
type RosterQuery struct {
	ClassID int64
	Date    string
}

func (q *RosterQuery) Bind(ctx echo.Context) error {
	var flds []core.FieldError

	classID, err := strconv.ParseInt(core.CleanString(ctx.QueryParam("class_id")), 10, 64)
	if err != nil || classID <= 0 {
		flds = append(flds, core.FieldError{Field: "class_id", Error: "must be a positive integer"})
	}
	date := core.CleanString(ctx.QueryParam("date"))
	if date == "" {
		flds = append(flds, core.FieldError{Field: "date", Error: "this field is required"})
	}
	if flds != nil {
		return core.NewValidationError(nil, flds...)
	}

	q.ClassID, q.Date = classID, date
	return nil
}

// LimitQuery binds an optional `limit` param between 1 and attendance.MaxHistoryLimit.
type LimitQuery struct {
	Limit int
}

func (q *LimitQuery) Bind(ctx echo.Context) error {
	val := core.CleanString(ctx.QueryParam("limit"))
	if val == "" {
		return nil
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit <= 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "limit", Error: "must be a positive integer"})
	}
	if limit > attendance.MaxHistoryLimit {
		return core.NewValidationError(nil, core.FieldError{Field: "limit", Error: fmt.Sprintf("must not exceed %d", attendance.MaxHistoryLimit)})
	}
	q.Limit = limit
	return nil
}
