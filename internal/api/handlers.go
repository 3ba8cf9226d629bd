package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"perp-trade-engine/internal/approval"
	"perp-trade-engine/internal/engine"
	"perp-trade-engine/internal/exchange"
	"perp-trade-engine/internal/intent"
)

// submitBatchRequest accepts either tabular rows or structured suggestions.
type submitBatchRequest struct {
	Origin      string              `json:"origin"` // "operator" (default) or "assistant"
	Rows        []intent.Row        `json:"rows,omitempty"`
	Suggestions []intent.Suggestion `json:"suggestions,omitempty"`
}

func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Rows) == 0 && len(req.Suggestions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must contain rows or suggestions"})
		return
	}
	if len(req.Rows) > 0 && len(req.Suggestions) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch cannot mix rows and suggestions"})
		return
	}

	origin := intent.OriginOperator
	switch req.Origin {
	case "", string(intent.OriginOperator):
	case string(intent.OriginAssistant):
		origin = intent.OriginAssistant
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown origin: " + req.Origin})
		return
	}

	var (
		batch *engine.Batch
		err   error
	)
	if len(req.Rows) > 0 {
		batch, err = s.engine.SubmitRows(c.Request.Context(), req.Rows, origin)
	} else {
		batch, err = s.engine.SubmitSuggestions(c.Request.Context(), req.Suggestions, origin)
	}
	if err != nil {
		if errors.Is(err, engine.ErrNoValidIntents) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, batch)
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batch, err := s.engine.Batch(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleBatchRecords(c *gin.Context) {
	records, err := s.engine.ExecutionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batchId": c.Param("id"), "records": records})
}

func (s *Server) handleApprove(c *gin.Context) {
	batch, err := s.engine.Approve(c.Request.Context(), c.Param("id"), decidedBy(c))
	if err != nil {
		s.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleReject(c *gin.Context) {
	batch, err := s.engine.Reject(c.Request.Context(), c.Param("id"), decidedBy(c))
	if err != nil {
		s.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleCancel(c *gin.Context) {
	batch, err := s.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// decisionError maps approval failures onto HTTP statuses.
func (s *Server) decisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrBatchNotFound), errors.Is(err, approval.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrAlreadyDecided), errors.Is(err, engine.ErrNotGated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.tracker.Positions()
	open := make([]exchange.Position, 0, len(positions))
	for _, p := range positions {
		if p.PositionAmt != 0 {
			open = append(open, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"positions": open})
}

func (s *Server) handleOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	resp, err := s.engine.CheckOrder(c.Request.Context(), c.Param("symbol"), orderID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecentRecords(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.store.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for _, checker := range s.checkers {
		if err := checker.Check(c.Request.Context()); err != nil {
			deps[checker.Name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[checker.Name] = "ok"
		}
	}

	c.JSON(status, gin.H{
		"status":       healthWord(status),
		"dependencies": deps,
	})
}

func healthWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

// decidedBy identifies the decision maker from the request; authentication is
// handled upstream, so a header is enough here.
func decidedBy(c *gin.Context) string {
	if who := c.GetHeader("X-Decided-By"); who != "" {
		return who
	}
	return "operator"
}
