package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veilbet/darkmarket/internal/api/middleware"
	"github.com/veilbet/darkmarket/internal/domain"
	"github.com/veilbet/darkmarket/internal/service"
)

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	svc *service.SettlementService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc *service.SettlementService) *MarketHandler {
	return &MarketHandler{svc: svc}
}

// Create godoc
// POST /api/markets [JWT]
// Body: {"market_id":1,"question":"...","end_time":"2026-03-01T12:00:00Z"}
func (h *MarketHandler) Create(c *gin.Context) {
	caller := middleware.GetUserID(c)

	// market_id 0 is a legal id, so no required binding on it.
	var body struct {
		MarketID uint64    `json:"market_id"`
		Question string    `json:"question" binding:"required"`
		EndTime  time.Time `json:"end_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	market, err := h.svc.InitializeMarket(c.Request.Context(), caller, body.MarketID, body.Question, body.EndTime)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuestionTooLong):
			respondError(c, http.StatusBadRequest, "ERR_QUESTION_TOO_LONG", err.Error())
		case errors.Is(err, domain.ErrMarketEnded):
			respondError(c, http.StatusBadRequest, "ERR_END_TIME_PAST", "end time must be in the future")
		case errors.Is(err, domain.ErrMarketExists):
			respondError(c, http.StatusConflict, "ERR_MARKET_EXISTS", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not create market")
		}
		return
	}
	respondSuccess(c, http.StatusCreated, market)
}

// GetByID godoc
// GET /api/markets/:id
// Resolved markets include their resolution record.
func (h *MarketHandler) GetByID(c *gin.Context) {
	marketID, ok := parseUint64Param(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_MARKET_ID", "invalid market id")
		return
	}

	summary, err := h.svc.GetMarketSummary(c.Request.Context(), marketID)
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "ERR_MARKET_NOT_FOUND", err.Error())
		} else {
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch market")
		}
		return
	}

	payload := gin.H{"market": summary}
	if summary.Resolved {
		res, err := h.svc.GetResolution(c.Request.Context(), marketID)
		if err == nil {
			payload["resolution"] = res
		}
	}
	respondSuccess(c, http.StatusOK, payload)
}

// List godoc
// GET /api/markets?page=1&limit=20
func (h *MarketHandler) List(c *gin.Context) {
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	markets, err := h.svc.ListMarkets(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not list markets")
		return
	}
	respondList(c, markets, len(markets), page, limit)
}

// GetResolution godoc
// GET /api/markets/:id/resolution
func (h *MarketHandler) GetResolution(c *gin.Context) {
	marketID, ok := parseUint64Param(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_MARKET_ID", "invalid market id")
		return
	}

	res, err := h.svc.GetResolution(c.Request.Context(), marketID)
	if err != nil {
		if errors.Is(err, domain.ErrMarketNotResolved) {
			respondError(c, http.StatusNotFound, "ERR_NOT_RESOLVED", err.Error())
		} else {
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch resolution")
		}
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// Resolve godoc
// POST /api/markets/:id/resolve [JWT, creator only]
// Body: {"computation_offset":42,"outcome":1}
func (h *MarketHandler) Resolve(c *gin.Context) {
	caller := middleware.GetUserID(c)

	marketID, ok := parseUint64Param(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_MARKET_ID", "invalid market id")
		return
	}

	var body struct {
		ComputationOffset uint64 `json:"computation_offset"`
		Outcome           *uint8 `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	err := h.svc.ResolveMarket(c.Request.Context(), caller, marketID, body.ComputationOffset, domain.Side(*body.Outcome))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPrediction):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_OUTCOME", err.Error())
		case errors.Is(err, domain.ErrMarketNotFound):
			respondError(c, http.StatusNotFound, "ERR_MARKET_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrMarketNotEnded):
			respondError(c, http.StatusConflict, "ERR_MARKET_NOT_ENDED", err.Error())
		case errors.Is(err, domain.ErrMarketAlreadyResolved):
			respondError(c, http.StatusConflict, "ERR_ALREADY_RESOLVED", err.Error())
		case errors.Is(err, domain.ErrUnauthorized):
			respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", "only the market creator may resolve it")
		case errors.Is(err, domain.ErrDuplicateComputation):
			respondError(c, http.StatusConflict, "ERR_DUPLICATE_COMPUTATION", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not submit resolution")
		}
		return
	}
	respondAccepted(c, body.ComputationOffset)
}
