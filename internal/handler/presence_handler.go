package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"presence-service/internal/dto"
	"presence-service/internal/response"
	"presence-service/internal/service"
)

type PresenceHandler struct {
	presenceService service.PresenceService
	logger          *zap.Logger
}

func NewPresenceHandler(presenceService service.PresenceService, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{
		presenceService: presenceService,
		logger:          logger,
	}
}

// SetPresence godoc
// @Summary      Heartbeat / status change for a device-session
// @Description  Upserts the caller's presence for one device-session. Out-of-order and
// @Description  clock-skewed writes answer 200 with accepted=false.
// @Tags         presence
// @Accept       json
// @Produce      json
// @Param        request body dto.SetPresenceRequest true "Presence heartbeat"
// @Success      200 {object} response.SuccessResponse{data=dto.SetPresenceResponse}
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /presence [post]
func (h *PresenceHandler) SetPresence(c *gin.Context) {
	userID, ok := ExtractUserID(c)
	if !ok {
		return
	}

	var req dto.SetPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid request body")
		return
	}

	result, err := h.presenceService.SetPresence(c.Request.Context(), userID, &req)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.SendSuccess(c, http.StatusOK, result)
}

// Leave godoc
// @Summary      Leaving beacon
// @Description  Marks a device-session offline. Sent when a tab closes or an agent exits.
// @Tags         presence
// @Accept       json
// @Produce      json
// @Param        request body dto.LeaveRequest true "Leaving signal"
// @Success      200 {object} response.SuccessResponse{data=dto.SetPresenceResponse}
// @Failure      400 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Router       /presence/offline [post]
func (h *PresenceHandler) Leave(c *gin.Context) {
	userID, ok := ExtractUserID(c)
	if !ok {
		return
	}

	var req dto.LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid request body")
		return
	}

	result, err := h.presenceService.Leave(c.Request.Context(), userID, &req)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.SendSuccess(c, http.StatusOK, result)
}

// GetOrganizationPresence godoc
// @Summary      Online users of an organization
// @Tags         presence
// @Produce      json
// @Param        organizationId path string true "Organization ID (UUID)"
// @Success      200 {object} response.SuccessResponse{data=dto.PresenceSummary}
// @Failure      400 {object} response.ErrorResponse
// @Router       /presence/organizations/{organizationId} [get]
func (h *PresenceHandler) GetOrganizationPresence(c *gin.Context) {
	orgID, ok := parseUUIDParam(c, "organizationId")
	if !ok {
		return
	}

	summary, err := h.presenceService.GetOrganizationSummary(c.Request.Context(), orgID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.SendSuccess(c, http.StatusOK, summary)
}

// GetUserPresence godoc
// @Summary      Effective presence of a user in an organization
// @Tags         presence
// @Produce      json
// @Param        userId path string true "User ID (UUID)"
// @Param        organizationId query string true "Organization ID (UUID)"
// @Success      200 {object} response.SuccessResponse{data=dto.UserPresenceResponse}
// @Failure      400 {object} response.ErrorResponse
// @Router       /presence/users/{userId} [get]
func (h *PresenceHandler) GetUserPresence(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "userId")
	if !ok {
		return
	}
	orgID, err := uuid.Parse(c.Query("organizationId"))
	if err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "organizationId query parameter is required")
		return
	}

	result, err := h.presenceService.GetUserPresence(c.Request.Context(), userID, orgID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	response.SendSuccess(c, http.StatusOK, result)
}
