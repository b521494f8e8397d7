package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// IdentityHandler handles test taker authentication endpoints.
type IdentityHandler struct {
	attemptService *service.AttemptService
}

// NewIdentityHandler creates a new IdentityHandler.
func NewIdentityHandler(attemptService *service.AttemptService) *IdentityHandler {
	return &IdentityHandler{attemptService: attemptService}
}

// IssueIdentity godoc
// POST /api/v1/tests/:test_id/identity
// Validates the taker's details and returns an attempt token. A valid token
// for the same test keeps its client namespace.
func (h *IdentityHandler) IssueIdentity(c *gin.Context) {
	testID := c.Param("test_id")
	if testID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.IssueIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	clientID := ""
	if claims := middleware.GetAttempt(c); claims != nil {
		clientID = claims.ClientID()
	}

	issued, err := h.attemptService.IssueIdentity(c.Request.Context(), testID, clientID, req)
	if err != nil {
		var ve *identity.ValidationError
		if errors.As(err, &ve) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, ve.Fields)
			return
		}
		response.Logger(c).Error().Err(err).Str("test_id", testID).Msg("Failed to issue identity")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, issued)
}

// GetIdentity godoc
// GET /api/v1/tests/:test_id/identity
// Reports whether the token's holder is still admitted to the test.
func (h *IdentityHandler) GetIdentity(c *gin.Context) {
	claims := middleware.GetAttempt(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ident, err := h.attemptService.CheckIdentity(c.Request.Context(), claims.TestID(), claims.ClientID())
	if err != nil {
		if errors.Is(err, identity.ErrAuthenticationRequired) {
			response.Fail(c, http.StatusUnauthorized, response.ErrAuthenticationRequired)
			return
		}
		response.Logger(c).Error().Err(err).Str("test_id", claims.TestID()).Msg("Failed to admit identity")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"identity": ident})
}

// DeleteIdentity godoc
// DELETE /api/v1/tests/:test_id/identity
// Forgets the taker's identity for the test. Idempotent.
func (h *IdentityHandler) DeleteIdentity(c *gin.Context) {
	claims := middleware.GetAttempt(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.attemptService.InvalidateIdentity(c.Request.Context(), claims.TestID(), claims.ClientID()); err != nil {
		response.Logger(c).Error().Err(err).Str("test_id", claims.TestID()).Msg("Failed to invalidate identity")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
