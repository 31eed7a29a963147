package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stocktrader/internal/ledger"
	"stocktrader/internal/repository"
)

type PortfolioHandler struct {
	Ledger *ledger.Manager
	Repo   repository.Repository
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/portfolio", h.portfolio)
	r.GET("/api/v1/portfolio/history", h.history)
	r.GET("/api/v1/positions", h.positions)
}

func (h *PortfolioHandler) portfolio(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	valuation, err := h.Ledger.Valuate(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, valuation, nil)
}

func (h *PortfolioHandler) positions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListPositions(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *PortfolioHandler) history(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)

	params := repository.ListSnapshotsParams{
		Limit:  limit,
		Offset: offset,
	}
	if v := strings.TrimSpace(c.Query("since")); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid since timestamp", nil)
			return
		}
		params.Since = &since
	}
	if v := strings.TrimSpace(c.Query("until")); v != "" {
		until, err := time.Parse(time.RFC3339, v)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid until timestamp", nil)
			return
		}
		params.Until = &until
	}

	items, err := h.Repo.ListPortfolioSnapshots(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, listMeta(limit, offset, len(items)))
}
