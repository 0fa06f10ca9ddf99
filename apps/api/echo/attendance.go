package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

const msgRecorded = "Attendance recorded successfully."

type (
	RecordResponse struct {
		Message      string `json:"message"`
		AttendanceID int64  `json:"attendanceId"`
	}

	BulkResponse struct {
		Message string `json:"message"`
		Saved   int    `json:"saved"`
		Skipped int    `json:"skipped"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)

type attendanceApi struct {
	svc      attendance.ServiceInterface
	validate *validator.Validate
}

func registerAttendanceAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc attendance.ServiceInterface,
	validate *validator.Validate,
) {
	api := attendanceApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/attendance", jwt, roleMiddleware(core.RoleAdmin, core.RoleTeacher))
	ag.GET("", api.roster)
	ag.POST("", api.record)
	ag.POST("/bulk", api.recordBulk)
	ag.POST("/session/cancel", api.cancelSession)
}

// Handlers

func (api *attendanceApi) roster(ctx echo.Context) error {
	var query RosterQuery
	if err := query.Bind(ctx); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	roster, err := api.svc.Roster(ctx.Request().Context(), actor, query.ClassID, query.Date)
	if err != nil {
		return errors.Wrap(err, "querying roster")
	}
	if roster == nil {
		roster = []attendance.RosterEntry{}
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *attendanceApi) record(ctx echo.Context) error {
	var data attendance.NewRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	res, err := api.svc.Record(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "recording attendance")
	}
	return ctx.JSON(http.StatusCreated, RecordResponse{Message: msgRecorded, AttendanceID: res.ID})
}

func (api *attendanceApi) recordBulk(ctx echo.Context) error {
	var data attendance.NewBulk
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBulk")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	res, err := api.svc.RecordBulk(ctx.Request().Context(), actor, data)
	if err != nil {
		if isClientError(err) {
			return err
		}
		return echo.NewHTTPError(http.StatusInternalServerError, errBulkSaveFailed).SetInternal(err)
	}
	return ctx.JSON(http.StatusCreated, BulkResponse{Message: msgRecorded, Saved: res.Saved, Skipped: res.Skipped})
}

func (api *attendanceApi) cancelSession(ctx echo.Context) error {
	var data attendance.CancelSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CancelSession")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	n, err := api.svc.CancelSession(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "canceling session")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("Session canceled and %d records removed.", n)})
}

// isClientError reports whether err maps to a 4xx response.
func isClientError(err error) bool {
	switch errors.Cause(err).(type) {
	case *core.ValidationError, *attendance.ForbiddenError, validator.ValidationErrors:
		return true
	}
	return errors.Cause(err) == attendance.ErrClassNotFound
}
