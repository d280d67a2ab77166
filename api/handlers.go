package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, accounts Accounts, tasks Tasks, verifier domain.TokenVerifier, deduper Deduper, logger *log.Logger) {
	if e.Validator == nil {
		e.Validator = NewRequestValidator()
	}

	e.GET("/healthz", healthz)

	auth := e.Group("/api/auth")
	a := &accountHandlers{accounts: accounts, log: logger}
	auth.POST("/register", instrument(logger, "/api/auth/register", "register", a.register))
	auth.POST("/login", instrument(logger, "/api/auth/login", "login", a.login))
	auth.POST("/google-login", instrument(logger, "/api/auth/google-login", "google_login", a.googleLogin))

	h := &taskHandlers{tasks: tasks, deduper: deduper, log: logger}
	g := e.Group("/api/tasks", AuthGate(verifier, logger))
	g.GET("", h.observe("/api/tasks", "board", h.board))
	g.GET("/", h.observe("/api/tasks", "board", h.board))
	g.POST("/addTask", h.observe("/api/tasks/addTask", "add", h.addTask))
	g.POST("/reorder", h.observe("/api/tasks/reorder", "reorder", h.reorder))
	g.PUT("/reorder", h.observe("/api/tasks/reorder", "reorder", h.reorder))
	g.PUT("/:id", h.observe("/api/tasks/:id", "update", h.update))
	g.DELETE("", h.observe("/api/tasks", "delete", h.delete))
	g.DELETE("/", h.observe("/api/tasks", "delete", h.delete))
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type taskHandlers struct {
	tasks   Tasks
	deduper Deduper
	log     *log.Logger
}

type taskHandlerFunc func(c echo.Context, userID string, m *requestMetrics) error

// observe instruments a task handler and resolves the principal stored by
// AuthGate.
func (h *taskHandlers) observe(route, operation string, fn taskHandlerFunc) echo.HandlerFunc {
	return instrument(h.log, route, operation, func(c echo.Context, m *requestMetrics) error {
		p, ok := principalFrom(c)
		if !ok {
			m.Fail("auth", nil)
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: msgNotAuthorized})
		}
		m.SetUser(p.UID)
		return fn(c, p.UID, m)
	})
}

// instrument records request metrics around fn.
func instrument(logger *log.Logger, route, operation string, fn func(echo.Context, *requestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, route, operation)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return fn(c, metrics)
	}
}

func (h *taskHandlers) board(c echo.Context, userID string, m *requestMetrics) error {
	start := time.Now()
	board, err := h.tasks.Board(c.Request().Context(), userID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, m, err)
	}
	n := 0
	for _, col := range board {
		n += len(col.Tasks)
	}
	m.SetTasksReturned(n)
	return c.JSON(http.StatusOK, board)
}

func (h *taskHandlers) addTask(c echo.Context, userID string, m *requestMetrics) error {
	var req addTaskRequest
	if err := c.Bind(&req); err != nil {
		return bindFailed(c, m, err)
	}

	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotency))
	if len(key) > maxIdempotencySize {
		m.Fail("validation", nil)
		return c.JSON(http.StatusBadRequest, validationResponse{Errors: []fieldError{{
			Field:   headerIdempotency,
			Message: "Idempotency key is too long",
		}}})
	}
	recorded := false
	if key != "" && h.deduper != nil {
		added, err := h.deduper.Add(ctx, userID, key)
		switch {
		case err != nil:
			// Serve the request without deduplication rather than failing it.
			h.log.WithError(err).WithField("user", userID).Warn("idempotency check failed")
		case !added:
			m.Fail("duplicate", nil)
			return c.JSON(http.StatusConflict, errorResponse{Error: msgDuplicate})
		default:
			recorded = true
		}
	}

	start := time.Now()
	task, err := h.tasks.AddTask(ctx, userID, domain.NewTask{
		Title:       sanitize(req.Title),
		Description: sanitize(req.Description),
	})
	m.ObserveStore(time.Since(start))
	if err != nil {
		if recorded {
			if rerr := h.deduper.Remove(ctx, userID, key); rerr != nil {
				h.log.WithError(rerr).WithFields(log.Fields{"user": userID, "key": key}).Error("idempotency key release failed")
			}
		}
		return h.fail(c, m, err)
	}
	return c.JSON(http.StatusCreated, messageResponse{Message: msgTaskAdded, TaskID: task.ID})
}

func (h *taskHandlers) update(c echo.Context, userID string, m *requestMetrics) error {
	var req updateTaskRequest
	if err := c.Bind(&req); err != nil {
		return bindFailed(c, m, err)
	}
	req.ID = strings.TrimSpace(req.ID)
	req.ListID = strings.TrimSpace(req.ListID)
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, m, err)
	}

	start := time.Now()
	_, err := h.tasks.UpdateTask(c.Request().Context(), userID, domain.TaskChanges{
		ListID:      req.ListID,
		TaskID:      req.ID,
		Title:       sanitizePtr(req.Title),
		Description: sanitizePtr(req.Description),
	})
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, m, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgTaskUpdated})
}

func (h *taskHandlers) reorder(c echo.Context, userID string, m *requestMetrics) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return bindFailed(c, m, err)
	}
	req.ListID = strings.TrimSpace(req.ListID)
	req.NewList = strings.TrimSpace(req.NewList)
	req.ID = strings.TrimSpace(req.ID)
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, m, err)
	}
	order, _ := req.Order.Int()

	start := time.Now()
	_, err := h.tasks.ReorderTask(c.Request().Context(), userID, domain.Reorder{
		ListID:      req.ListID,
		NewListID:   req.NewList,
		TaskID:      req.ID,
		Order:       order,
		Title:       sanitizePtr(req.Title),
		Description: sanitizePtr(req.Description),
	})
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, m, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgTaskReordered})
}

func (h *taskHandlers) delete(c echo.Context, userID string, m *requestMetrics) error {
	req := deleteTaskQuery{
		ListID: strings.TrimSpace(c.QueryParam("listId")),
		ID:     strings.TrimSpace(c.QueryParam("id")),
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, m, err)
	}

	start := time.Now()
	err := h.tasks.DeleteTask(c.Request().Context(), userID, req.ListID, req.ID)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return h.fail(c, m, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgTaskDeleted})
}

// fail maps a task service error to its response. Causes of 500s are
// logged, never returned to the client.
func (h *taskHandlers) fail(c echo.Context, m *requestMetrics, err error) error {
	switch {
	case errors.Is(err, domain.ErrListNotFound):
		m.Fail("not_found", nil)
		return c.JSON(http.StatusNotFound, errorResponse{Error: msgListNotFound})
	case errors.Is(err, domain.ErrNotFound):
		m.Fail("not_found", nil)
		return c.JSON(http.StatusNotFound, errorResponse{Error: msgTaskNotFound})
	case errors.Is(err, domain.ErrInvalidOrder):
		m.Fail("validation", nil)
		return c.JSON(http.StatusBadRequest, validationResponse{Errors: []fieldError{{
			Field:   "order",
			Message: fieldMessages["order"],
		}}})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		m.Fail("conflict", nil)
		h.log.WithError(err).Warn("task commit retries exhausted")
		return c.JSON(http.StatusConflict, errorResponse{Error: msgConflict})
	case errors.Is(err, domain.ErrBatchTooLarge):
		m.Fail("batch_limit", nil)
		h.log.WithError(err).Warn("task batch over transaction limit")
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: msgListTooLarge})
	}
	m.Fail("store", err)
	h.log.WithError(err).Error("task request failed")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: msgSomethingWrong})
}

func bindFailed(c echo.Context, m *requestMetrics, err error) error {
	m.Fail("bind", nil)
	if errors.Is(err, errBodyTooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: msgInvalidBody})
	}
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
}

func validationFailed(c echo.Context, m *requestMetrics, err error) error {
	m.Fail("validation", nil)
	errs := fieldErrors(err)
	if errs == nil {
		errs = []fieldError{{Message: err.Error()}}
	}
	return c.JSON(http.StatusBadRequest, validationResponse{Errors: errs})
}
