package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veilbet/darkmarket/internal/api/middleware"
	"github.com/veilbet/darkmarket/internal/domain"
	"github.com/veilbet/darkmarket/internal/service"
)

// BetHandler serves encrypted bet placement and claim endpoints. Ciphertext
// fields travel as base64 strings in JSON bodies.
type BetHandler struct {
	svc *service.SettlementService
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(svc *service.SettlementService) *BetHandler {
	return &BetHandler{svc: svc}
}

// PlaceBet godoc
// POST /api/markets/:id/bets [JWT]
// Body: {"computation_offset":42,"encrypted_amount":"...","encrypted_prediction":"...","pub_key":"...","nonce":"..."}
func (h *BetHandler) PlaceBet(c *gin.Context) {
	caller := middleware.GetUserID(c)

	marketID, ok := parseUint64Param(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_MARKET_ID", "invalid market id")
		return
	}

	var body struct {
		ComputationOffset   uint64 `json:"computation_offset"`
		EncryptedAmount     []byte `json:"encrypted_amount"     binding:"required"`
		EncryptedPrediction []byte `json:"encrypted_prediction" binding:"required"`
		PubKey              []byte `json:"pub_key"              binding:"required"`
		Nonce               []byte `json:"nonce"                binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	req := domain.PlaceBetRequest{
		MarketID:            marketID,
		ComputationOffset:   body.ComputationOffset,
		Bettor:              caller,
		EncryptedAmount:     body.EncryptedAmount,
		EncryptedPrediction: body.EncryptedPrediction,
		PubKey:              body.PubKey,
		Nonce:               body.Nonce,
	}
	if err := h.svc.PlaceBet(c.Request.Context(), req); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEncryptedData):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ENCRYPTED_DATA", err.Error())
		case errors.Is(err, domain.ErrMarketNotFound):
			respondError(c, http.StatusNotFound, "ERR_MARKET_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrMarketEnded):
			respondError(c, http.StatusConflict, "ERR_MARKET_ENDED", err.Error())
		case errors.Is(err, domain.ErrMarketAlreadyResolved):
			respondError(c, http.StatusConflict, "ERR_ALREADY_RESOLVED", err.Error())
		case errors.Is(err, domain.ErrDuplicateComputation):
			respondError(c, http.StatusConflict, "ERR_DUPLICATE_COMPUTATION", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not submit bet")
		}
		return
	}
	respondAccepted(c, body.ComputationOffset)
}

// Claim godoc
// POST /api/markets/:id/bets/:betID/claim [JWT, bet owner only]
// Body: {"computation_offset":43}
func (h *BetHandler) Claim(c *gin.Context) {
	caller := middleware.GetUserID(c)

	marketID, ok := parseUint64Param(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_MARKET_ID", "invalid market id")
		return
	}
	betID, ok := parseUint64Param(c, "betID")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BET_ID", "invalid bet id")
		return
	}

	var body struct {
		ComputationOffset uint64 `json:"computation_offset"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.svc.ClaimWinnings(c.Request.Context(), caller, marketID, betID, body.ComputationOffset); err != nil {
		switch {
		case errors.Is(err, domain.ErrMarketNotResolved):
			respondError(c, http.StatusConflict, "ERR_NOT_RESOLVED", err.Error())
		case errors.Is(err, domain.ErrBetNotFound), errors.Is(err, domain.ErrMarketNotFound):
			respondError(c, http.StatusNotFound, "ERR_BET_NOT_FOUND", "bet not found")
		case errors.Is(err, domain.ErrUnauthorized):
			respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", "this bet does not belong to you")
		case errors.Is(err, domain.ErrBetAlreadyClaimed):
			respondError(c, http.StatusConflict, "ERR_ALREADY_CLAIMED", err.Error())
		case errors.Is(err, domain.ErrDuplicateComputation):
			respondError(c, http.StatusConflict, "ERR_DUPLICATE_COMPUTATION", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not submit claim")
		}
		return
	}
	respondAccepted(c, body.ComputationOffset)
}

// GetMyBets godoc
// GET /api/bets/my [JWT]
func (h *BetHandler) GetMyBets(c *gin.Context) {
	caller := middleware.GetUserID(c)

	bets, err := h.svc.ListMyBets(c.Request.Context(), caller)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bets")
		return
	}
	page, limit := parsePagination(c)
	respondList(c, bets, len(bets), page, limit)
}

// GetBet godoc
// GET /api/markets/:id/bets/:betID [JWT, bet owner only]
func (h *BetHandler) GetBet(c *gin.Context) {
	caller := middleware.GetUserID(c)

	marketID, ok := parseUint64Param(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_MARKET_ID", "invalid market id")
		return
	}
	betID, ok := parseUint64Param(c, "betID")
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_BET_ID", "invalid bet id")
		return
	}

	bet, err := h.svc.GetBet(c.Request.Context(), caller, marketID, betID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBetNotFound):
			respondError(c, http.StatusNotFound, "ERR_BET_NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrUnauthorized):
			respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", "access denied")
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch bet")
		}
		return
	}
	respondSuccess(c, http.StatusOK, bet)
}

// Randomness godoc
// POST /api/randomness [JWT]
// Body: {"computation_offset":44,"seeds":["...","...","..."],"modulus":100,"pub_key":"...","nonce":"..."}
func (h *BetHandler) Randomness(c *gin.Context) {
	caller := middleware.GetUserID(c)

	var body struct {
		ComputationOffset uint64   `json:"computation_offset"`
		Seeds             [][]byte `json:"seeds"   binding:"required"`
		Modulus           uint64   `json:"modulus"`
		PubKey            []byte   `json:"pub_key" binding:"required"`
		Nonce             []byte   `json:"nonce"   binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	err := h.svc.GenerateRandomness(c.Request.Context(), service.RandomnessRequest{
		ComputationOffset: body.ComputationOffset,
		Caller:            caller,
		Seeds:             body.Seeds,
		Modulus:           body.Modulus,
		PubKey:            body.PubKey,
		Nonce:             body.Nonce,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEncryptedData):
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ENCRYPTED_DATA", err.Error())
		case errors.Is(err, domain.ErrDuplicateComputation):
			respondError(c, http.StatusConflict, "ERR_DUPLICATE_COMPUTATION", err.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not submit computation")
		}
		return
	}
	respondAccepted(c, body.ComputationOffset)
}
