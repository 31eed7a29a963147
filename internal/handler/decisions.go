package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"stocktrader/internal/decision"
	"stocktrader/internal/repository"
)

type DecisionHandler struct {
	Repo   repository.Repository
	Engine *decision.Engine
}

func (h *DecisionHandler) Register(r *gin.Engine) {
	d := r.Group("/api/v1/decisions")
	d.GET("", h.list)
	d.GET("/pending", h.pending)
	d.GET("/:id", h.get)
	d.POST("/:symbol/approve", h.approve)
	d.POST("/:symbol/reject", h.reject)
}

func (h *DecisionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	orderBy := parseOrder(strings.TrimSpace(c.Query("order_by")), map[string]string{
		"created_at": "created_at",
		"confidence": "confidence",
		"symbol":     "symbol",
	})
	asc := strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc")

	params := repository.ListDecisionsParams{
		Limit:   limit,
		Offset:  offset,
		OrderBy: orderBy,
		Asc:     boolPtr(asc),
	}
	if v := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); v != "" {
		params.Symbol = &v
	}
	if v := strings.TrimSpace(c.Query("source")); v != "" {
		params.Source = &v
	}
	if v := strings.TrimSpace(c.Query("executed")); v != "" {
		executed, err := strconv.ParseBool(v)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid executed flag", nil)
			return
		}
		params.Executed = &executed
	}

	items, err := h.Repo.ListDecisions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, listMeta(limit, offset, len(items)))
}

func (h *DecisionHandler) pending(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListPendingReviewDecisions(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *DecisionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetDecisionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "decision not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *DecisionHandler) approve(c *gin.Context) {
	h.resolve(c, true)
}

func (h *DecisionHandler) reject(c *gin.Context) {
	h.resolve(c, false)
}

func (h *DecisionHandler) resolve(c *gin.Context, approve bool) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "decision engine unavailable", nil)
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		Error(c, http.StatusBadRequest, "invalid symbol", nil)
		return
	}

	var (
		item any
		err  error
	)
	if approve {
		item, err = h.Engine.Approve(c.Request.Context(), symbol)
	} else {
		item, err = h.Engine.Reject(c.Request.Context(), symbol)
	}
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
