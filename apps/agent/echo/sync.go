package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/offline"
)

type syncApi struct {
	deps ServerDeps
}

func registerSyncAPI(g *echo.Group, deps ServerDeps) {
	api := syncApi{deps: deps}

	sg := g.Group("/sync")
	sg.GET("/status", api.syncStatus)
	sg.POST("/flush", api.syncFlush)
	sg.POST("/retry", api.syncRetry)
	sg.DELETE("/queue", api.syncClearQueue)
}

type (
	FlushRequest struct {
		ForceFlush bool `json:"forceFlush"`
	}

	FlushResponse struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}
)

func (api *syncApi) syncStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.deps.Coordinator.Status())
}

func (api *syncApi) syncFlush(ctx echo.Context) error {
	data := new(FlushRequest)
	if err := ctx.Bind(data); err != nil {
		return err
	}
	if !data.ForceFlush {
		return core.NewValidationError(nil, core.FieldError{Field: "forceFlush", Error: "forceFlush must be true"})
	}

	res := FlushResponse{Timestamp: core.TimeMillis(time.Now())}
	flushed, err := api.deps.Coordinator.Flush(ctx.Request().Context())
	switch err {
	case nil:
		res.Success = true
		res.Message = flushMessage(flushed)
	case offline.ErrOffline:
		res.Message = "offline; updates will sync once connectivity returns"
	case offline.ErrSyncInProgress:
		res.Message = "sync already in progress"
	default:
		res.Message = "sync failed; queued updates will be retried"
	}
	return ctx.JSON(http.StatusOK, res)
}

func flushMessage(flushed int) string {
	if flushed == 0 {
		return "nothing to flush"
	}
	return fmt.Sprintf("flushed %d update(s)", flushed)
}

func (api *syncApi) syncRetry(ctx echo.Context) error {
	n := api.deps.Coordinator.RetryFailed()
	return ctx.JSON(http.StatusOK, echo.Map{"reset": n})
}

func (api *syncApi) syncClearQueue(ctx echo.Context) error {
	api.deps.Coordinator.ClearQueue()
	return ctx.NoContent(http.StatusNoContent)
}
