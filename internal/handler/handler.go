// Package handler exposes the attendance ledger and schedule over HTTP.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"clubattendance/internal/attendance"
	"clubattendance/internal/auth"
	"clubattendance/internal/logging"
	"clubattendance/internal/schedule"
)

// Handler serves the student and admin attendance routes.
type Handler struct {
	ledger   *attendance.Service
	schedule *schedule.Manager
	logger   *slog.Logger
}

func New(ledger *attendance.Service, sched *schedule.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{ledger: ledger, schedule: sched, logger: logger}
}

// Register mounts the routes under /v1. authn must populate auth claims.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	student := r.Group("/v1/attendance", authn)
	student.GET("/status", h.status)
	student.POST("/check-in", h.checkIn)

	admin := r.Group("/v1/admin/attendance", authn, auth.RequireRole(auth.RoleAdmin))
	admin.GET("/config", h.config)
	admin.POST("", h.action)
	admin.POST("/initialize-session", h.initializeSession)
	admin.GET("/initialize-session", h.sessionStatus)
	admin.POST("/mark-absent", h.markAbsent)
	admin.GET("/records", h.records)
	admin.POST("/record", h.createRecord)
	admin.PATCH("/record", h.setStatus)
}

func (h *Handler) status(c *gin.Context) {
	cfg, err := h.schedule.Current(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	now := h.schedule.Now()
	resp := gin.H{
		"isAttendanceOpen": false,
		"weekNumber":       schedule.WeekNumber(cfg, now),
		"config":           cfg.Public(),
		"codeEnabled":      cfg.CodeEnabled,
		"hasCode":          cfg.HasCode(),
		"schedule":         schedule.Describe(cfg),
	}
	if sess, open := schedule.CurrentSession(cfg, now); open {
		resp["isAttendanceOpen"] = true
		resp["session"] = gin.H{
			"sessionNumber":    sess.Number,
			"sessionTime":      sess.Time,
			"minutesRemaining": sess.MinutesRemaining,
			"isLate":           sess.Late,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) checkIn(c *gin.Context) {
	var req struct {
		StudentID        string `json:"studentId"`
		StudentName      string `json:"studentName"`
		StudentEmail     string `json:"studentEmail"`
		VerificationCode string `json:"verificationCode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	claims, _ := auth.ClaimsFrom(c)
	if claims.Role == auth.RoleStudent && claims.Subject != strings.TrimSpace(req.StudentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "students may only check in for themselves"})
		return
	}

	rec, err := h.ledger.CheckIn(c.Request.Context(), attendance.CheckInRequest{
		StudentID:        req.StudentID,
		StudentName:      req.StudentName,
		StudentEmail:     req.StudentEmail,
		VerificationCode: req.VerificationCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"record": gin.H{
			"id":          rec.ID,
			"status":      rec.Status,
			"sessionTime": rec.SessionTime,
			"weekNumber":  rec.WeekNumber,
		},
	})
}

// config returns the full schedule including the live code.
func (h *Handler) config(c *gin.Context) {
	cfg, err := h.schedule.Current(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg, "schedule": schedule.Describe(cfg)})
}

func (h *Handler) action(c *gin.Context) {
	var req struct {
		Action  string               `json:"action"`
		Enabled bool                 `json:"enabled"`
		Config  schedule.ConfigPatch `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	var (
		cfg schedule.Config
		err error
	)
	switch req.Action {
	case "toggle-debug":
		cfg, err = h.schedule.ToggleDebug(ctx, req.Enabled)
	case "update-config":
		cfg, err = h.schedule.Update(ctx, req.Config)
	case "generate-code":
		cfg, err = h.schedule.GenerateCode(ctx)
	case "toggle-code":
		cfg, err = h.schedule.ToggleCode(ctx, req.Enabled)
	case "clear-code":
		cfg, err = h.schedule.ClearCode(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + strconv.Quote(req.Action)})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("attendance config changed", "action", req.Action, "request_id", c.GetString("request_id"))
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}

type sessionRequest struct {
	SessionTime string `json:"sessionTime"`
	WeekNumber  int    `json:"weekNumber"`
	// SessionDuration is accepted from older clients; windows come from the stored schedule.
	SessionDuration int    `json:"sessionDuration"`
	MarkAs          string `json:"markAs"`
}

func (h *Handler) bindSession(c *gin.Context) (sessionRequest, bool) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	if strings.TrimSpace(req.SessionTime) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionTime is required"})
		return req, false
	}
	if req.WeekNumber == 0 {
		week, err := h.currentWeek(c)
		if err != nil {
			h.fail(c, err)
			return req, false
		}
		req.WeekNumber = week
	}
	return req, true
}

func (h *Handler) currentWeek(c *gin.Context) (int, error) {
	cfg, err := h.schedule.Current(c.Request.Context())
	if err != nil {
		return 0, err
	}
	return schedule.WeekNumber(cfg, h.schedule.Now()), nil
}

func (h *Handler) initializeSession(c *gin.Context) {
	req, ok := h.bindSession(c)
	if !ok {
		return
	}
	res, err := h.ledger.InitializeSession(c.Request.Context(), req.SessionTime, req.WeekNumber)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (h *Handler) sessionStatus(c *gin.Context) {
	sessionTime, week, ok := h.sessionQuery(c)
	if !ok {
		return
	}
	if sessionTime == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionTime is required"})
		return
	}
	view, err := h.ledger.SessionCounts(c.Request.Context(), sessionTime, week)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionNumber": view.SessionNumber,
		"sessionTime":   view.SessionTime,
		"weekNumber":    view.WeekNumber,
		"counts":        view.Counts,
	})
}

func (h *Handler) markAbsent(c *gin.Context) {
	req, ok := h.bindSession(c)
	if !ok {
		return
	}
	var markAs attendance.Status
	if strings.TrimSpace(req.MarkAs) != "" {
		parsed, err := attendance.ParseStatus(req.MarkAs)
		if err != nil {
			h.fail(c, err)
			return
		}
		markAs = parsed
	}
	res, err := h.ledger.Sweep(c.Request.Context(), req.SessionTime, req.WeekNumber, markAs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

func (h *Handler) sessionQuery(c *gin.Context) (string, int, bool) {
	sessionTime := strings.TrimSpace(c.Query("sessionTime"))
	week := 0
	if v := c.Query("weekNumber"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "weekNumber must be a positive integer"})
			return "", 0, false
		}
		week = parsed
	}
	if week == 0 {
		current, err := h.currentWeek(c)
		if err != nil {
			h.fail(c, err)
			return "", 0, false
		}
		week = current
	}
	return sessionTime, week, true
}

func (h *Handler) records(c *gin.Context) {
	sessionTime, week, ok := h.sessionQuery(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if sessionTime == "" {
		view, err := h.ledger.WeekSummary(ctx, week)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
		return
	}
	includeAll, _ := strconv.ParseBool(c.Query("includeAll"))
	view, err := h.ledger.SessionRecords(ctx, sessionTime, week, includeAll)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) createRecord(c *gin.Context) {
	var req struct {
		StudentID     string `json:"studentId"`
		SessionNumber int    `json:"sessionNumber"`
		WeekNumber    int    `json:"weekNumber"`
		Status        string `json:"status"`
		Notes         string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.ledger.CreateRecord(c.Request.Context(), attendance.AdminRecord{
		StudentID:     req.StudentID,
		SessionNumber: req.SessionNumber,
		WeekNumber:    req.WeekNumber,
		Status:        status,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "record": rec})
}

func (h *Handler) setStatus(c *gin.Context) {
	var req struct {
		RecordID string  `json:"recordId"`
		Status   string  `json:"status"`
		Notes    *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, created, err := h.ledger.SetStatus(c.Request.Context(), req.RecordID, status, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("attendance overridden", "key", rec.ID, "status", rec.Status, "created", created, "request_id", c.GetString("request_id"))
	c.JSON(http.StatusOK, gin.H{"success": true, "created": created, "record": rec})
}

// fail maps ledger and schedule errors onto HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	var closed *attendance.WindowClosedError
	var already *attendance.AlreadyCheckedInError
	switch {
	case errors.As(err, &closed):
		c.JSON(http.StatusForbidden, gin.H{"error": closed.Error(), "schedule": closed.Schedule})
	case errors.Is(err, attendance.ErrWindowClosed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidCode):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "requireCode": true})
	case errors.As(err, &already):
		c.JSON(http.StatusConflict, gin.H{"error": already.Error(), "status": already.Status})
	case errors.Is(err, attendance.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidKey),
		errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrInvalidRequest),
		errors.Is(err, attendance.ErrUnknownSession),
		errors.Is(err, schedule.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("attendance request failed",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
