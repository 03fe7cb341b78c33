package bridge

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthbridge-backend/internal/bridge"
	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/service/presence"
	"healthbridge-backend/internal/service/registry"
	"healthbridge-backend/pkg/logger"
	"healthbridge-backend/pkg/response"
)

// Handler receives conference bridge webhooks and feeds the presence
// coordinator. The bridge posts with a shared token; there is no user
// identity on these calls.
type Handler struct {
	registryService *registry.Service
	presenceService *presence.Service
	webhookToken    string
}

// NewHandler creates a new bridge webhook handler
func NewHandler(registryService *registry.Service, presenceService *presence.Service, webhookToken string) *Handler {
	return &Handler{
		registryService: registryService,
		presenceService: presenceService,
		webhookToken:    webhookToken,
	}
}

// RegisterRoutes wires the webhook endpoint
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bridge/events", h.HandleEvent)
}

// HandleEvent translates a bridge callback and applies it to the session
// POST /v1/bridge/events
func (h *Handler) HandleEvent(c *gin.Context) {
	token := c.GetHeader("X-Bridge-Token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		response.Unauthorized(c, "Invalid bridge token")
		return
	}

	var payload bridge.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	event, err := bridge.Translate(&payload)
	if err != nil {
		response.FromError(c, err)
		return
	}

	session, err := h.registryService.GetByChannelName(c.Request.Context(), event.ChannelName)
	if err != nil {
		response.FromError(c, err)
		return
	}

	switch event.Type {
	case bridge.EventJoined, bridge.EventLeft:
		role, ok := h.participantRole(session, event.ParticipantName)
		if !ok {
			logger.Warn("bridge event for unknown participant",
				zap.String("channel_name", event.ChannelName),
				zap.String("participant", event.ParticipantName))
			response.ValidationError(c, "Unknown participant")
			return
		}
		if event.Type == bridge.EventJoined {
			_, err = h.presenceService.ReportJoin(c.Request.Context(), session.SessionID, role)
		} else {
			_, err = h.presenceService.ReportLeave(c.Request.Context(), session.SessionID, role)
		}
	case bridge.EventEnded:
		_, err = h.presenceService.ReportEnd(c.Request.Context(), session.SessionID)
	}

	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Event processed"})
}

// participantRole resolves which participant a bridge display identity
// refers to. Sessions are embedded with the participant's user id as the
// display identity, so the mapping is a straight lookup.
func (h *Handler) participantRole(session *domain.Session, participant string) (domain.Role, bool) {
	userID, err := uuid.Parse(participant)
	if err != nil {
		return "", false
	}
	return session.RoleOf(userID)
}
