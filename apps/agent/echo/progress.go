package echoapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/progress"
)

type progressApi struct {
	deps ServerDeps
}

func registerProgressAPI(g *echo.Group, deps ServerDeps) {
	api := progressApi{deps: deps}

	pg := g.Group("/progress")
	pg.POST("/events", api.eventCreate)
	pg.GET("/courses/:id", api.courseRetrieve)
	pg.GET("/courses/:courseId/chapters/:id", api.chapterRetrieve)
	pg.GET("/quizzes/:id", api.quizRetrieve)
	pg.GET("/quizzes/:id/answers", api.quizAnswers)
}

// EventRequest is the UI boundary's single write surface: the event is
// appended to the local log and enqueued for server sync in one call.
type EventRequest struct {
	Type      string          `json:"type" validate:"required,event_type"`
	EntityID  string          `json:"entityId" validate:"required"`
	Timestamp int64           `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}

type eventResponse struct {
	Event  progress.Event `json:"event"`
	Queued bool           `json:"queued"`
}

func (api *progressApi) eventCreate(ctx echo.Context) error {
	data := new(EventRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	data.EntityID = core.CleanString(data.EntityID)
	if err := api.deps.Validate.Struct(data); err != nil {
		return err
	}

	typ := progress.EventType(data.Type)
	meta, err := progress.DecodeMetadata(typ, data.Metadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed metadata").SetInternal(err)
	}

	var ev progress.Event
	if data.Timestamp > 0 {
		ev, err = progress.NewEventAt(typ, data.EntityID, meta, data.Timestamp)
	} else {
		ev, err = progress.NewEvent(typ, data.EntityID, meta)
	}
	if err != nil {
		return err
	}

	if err = api.deps.Log.Append(ev); err != nil {
		return err
	}
	// log and queue are independent stores fed by the same action; a queue
	// full of synced history is fine, the log is local truth either way
	if _, err = api.deps.Coordinator.Enqueue(ev); err != nil {
		return err
	}

	return ctx.JSON(http.StatusCreated, eventResponse{Event: ev, Queued: true})
}

func (api *progressApi) courseRetrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.deps.Projector.CourseSummary(ctx.Param("id")))
}

func (api *progressApi) chapterRetrieve(ctx echo.Context) error {
	status := api.deps.Projector.ChapterStatus(ctx.Param("id"), ctx.Param("courseId"))
	return ctx.JSON(http.StatusOK, status)
}

func (api *progressApi) quizRetrieve(ctx echo.Context) error {
	totalQuestions, _ := strconv.Atoi(ctx.QueryParam("totalQuestions"))
	return ctx.JSON(http.StatusOK, api.deps.Projector.QuizSummary(ctx.Param("id"), totalQuestions))
}

func (api *progressApi) quizAnswers(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.deps.Projector.QuizAnswers(ctx.Param("id")))
}
