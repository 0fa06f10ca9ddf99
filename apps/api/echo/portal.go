package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// portalApi serves the student portal. The student is always the token subject.
type portalApi struct {
	svc attendance.ServiceInterface
}

func registerPortalAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc attendance.ServiceInterface) {
	api := portalApi{svc: svc}

	pg := g.Group("/portal", jwt, roleMiddleware(core.RoleStudent))
	pg.GET("/my-classes", api.myClasses)
	pg.GET("/my-attendance", api.myAttendance)
}

func (api *portalApi) myClasses(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	classes, err := api.svc.StudentClasses(ctx.Request().Context(), actor.ID)
	if err != nil {
		return errors.Wrap(err, "querying student classes")
	}
	if classes == nil {
		classes = []attendance.StudentClass{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *portalApi) myAttendance(ctx echo.Context) error {
	var query LimitQuery
	if err := query.Bind(ctx); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	history, err := api.svc.StudentHistory(ctx.Request().Context(), actor.ID, query.Limit)
	if err != nil {
		return errors.Wrap(err, "querying student history")
	}
	if history == nil {
		history = []attendance.HistoryEntry{}
	}
	return ctx.JSON(http.StatusOK, history)
}
