package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signal-core/internal/order"
	"signal-core/internal/scanner"
	"signal-core/pkg/db"
	"signal-core/pkg/errs"
	"signal-core/pkg/logger"
)

type listSignalsQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=active executed expired"`
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
}

type listExecutionsQuery struct {
	Limit int `form:"limit"`
}

func normalizeLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func respondError(c *gin.Context, status int, code, msg, hint string) {
	body := gin.H{
		"code":  code,
		"error": msg,
	}
	if hint != "" {
		body["hint"] = hint
	}
	c.JSON(status, body)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindData:
		return http.StatusUnprocessableEntity
	case errs.KindExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Meta)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not configured", "")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// triggerScan runs one scan and returns its report.
func (s *Server) triggerScan(c *gin.Context) {
	if s.Scanner == nil {
		respondError(c, http.StatusServiceUnavailable, "SCANNER_UNAVAILABLE", "scanner not configured", "")
		return
	}
	var req scanner.Request
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), "body is {\"symbols\": [...], \"timeframes\": [...]}")
			return
		}
	}
	for i, sym := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	report, err := s.Scanner.Scan(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"code":   errs.CodeOf(err),
			"error":  err.Error(),
			"hint":   "shared infrastructure failed; the scan was aborted",
			"report": report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getSignals(c *gin.Context) {
	var q listSignalsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error(), "status is one of active, executed, expired")
		return
	}
	q.Limit = normalizeLimit(q.Limit, 100, 500)

	signals, err := s.DB.ListSignals(c.Request.Context(), db.SignalFilter{
		Status: q.Status,
		Symbol: strings.ToUpper(q.Symbol),
		Limit:  q.Limit,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), "")
		return
	}
	if signals == nil {
		signals = []db.Signal{}
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, signals)
}

func (s *Server) getExecutions(c *gin.Context) {
	var q listExecutionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error(), "")
		return
	}
	q.Limit = normalizeLimit(q.Limit, 100, 500)

	execs, err := s.DB.ListExecutions(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), "")
		return
	}
	if execs == nil {
		execs = []db.Execution{}
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, execs)
}

// getExecution returns one execution with its attempt log.
func (s *Server) getExecution(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	exec, err := s.DB.GetExecution(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "execution not found", "")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), "")
		return
	}
	attempts, err := s.DB.ListExecutionAttempts(ctx, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error(), "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution": exec,
		"attempts":  attempts,
	})
}

// createOrder executes an order intent synchronously. The Idempotency-Key
// header, when present, takes precedence over the body field.
func (s *Server) createOrder(c *gin.Context) {
	if s.Executor == nil {
		respondError(c, http.StatusServiceUnavailable, "EXECUTOR_UNAVAILABLE", "order executor not configured", "")
		return
	}
	var in order.Intent
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), "check symbol, side, sizing_mode and leverage")
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		in.IdempotencyKey = key
	}

	res, err := s.Executor.Execute(c.Request.Context(), in)
	if err != nil {
		logger.Named("api").Warn("order rejected",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("symbol", in.Symbol),
			zap.String("code", errs.CodeOf(err)),
			zap.Error(err))
		body := gin.H{
			"code":  errs.CodeOf(err),
			"error": err.Error(),
		}
		if hint := errs.HintOf(err); hint != "" {
			body["hint"] = hint
		}
		if res.ExecutionID != "" {
			body["result"] = res
		}
		c.JSON(statusFor(err), body)
		return
	}

	c.Header("Idempotency-Key", res.IdempotencyKey)
	if w := res.Warning(); w != nil {
		c.Header("X-Execution-Warning", errs.CodeOf(w))
		logger.Named("api").Warn("order executed without full protection",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("execution_id", res.ExecutionID),
			zap.String("kind", string(errs.KindOf(w))),
			zap.Error(w))
	}
	if res.Duplicate {
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}
