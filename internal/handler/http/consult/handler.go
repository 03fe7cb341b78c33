package consult

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"healthbridge-backend/internal/domain"
	"healthbridge-backend/internal/middleware"
	"healthbridge-backend/internal/service/attachment"
	"healthbridge-backend/internal/service/messaging"
	"healthbridge-backend/internal/service/presence"
	"healthbridge-backend/internal/service/registry"
	"healthbridge-backend/pkg/pagination"
	"healthbridge-backend/pkg/push"
	"healthbridge-backend/pkg/response"
)

// Handler handles consultation HTTP requests
type Handler struct {
	registryService   *registry.Service
	messagingService  *messaging.Service
	presenceService   *presence.Service
	attachmentService *attachment.Service
	pushService       *push.Service
}

// NewHandler creates a new consultation handler
func NewHandler(
	registryService *registry.Service,
	messagingService *messaging.Service,
	presenceService *presence.Service,
	attachmentService *attachment.Service,
	pushService *push.Service,
) *Handler {
	return &Handler{
		registryService:   registryService,
		messagingService:  messagingService,
		presenceService:   presenceService,
		attachmentService: attachmentService,
		pushService:       pushService,
	}
}

// RegisterRoutes wires the consultation endpoints onto an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.GET("/:id/state", h.GetState)

		sessions.GET("/:id/messages", h.GetMessages)
		sessions.POST("/:id/messages", h.SendMessage)
		sessions.POST("/:id/messages/:message_id/read", h.MarkRead)
		sessions.PATCH("/:id/messages/:message_id", h.EditMessage)

		sessions.POST("/:id/join", h.ReportJoin)
		sessions.POST("/:id/leave", h.ReportLeave)
		sessions.POST("/:id/end", h.ReportEnd)
		sessions.POST("/:id/cancel", h.Cancel)

		sessions.POST("/:id/attachments/upload-url", h.CreateUploadURL)
		sessions.GET("/:id/attachments/download-url", h.CreateDownloadURL)
	}

	tokens := rg.Group("/push/tokens")
	{
		tokens.POST("", h.RegisterPushToken)
		tokens.DELETE("", h.UnregisterPushToken)
	}
}

func caller(c *gin.Context) (domain.Caller, bool) {
	cl, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
	}
	return cl, ok
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

// CreateSession books a new consultation session
// POST /v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	if _, ok := caller(c); !ok {
		return
	}

	var req domain.SessionCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	session, err := h.registryService.Create(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// ListSessions lists the caller's sessions
// GET /v1/sessions?limit=20
func (h *Handler) ListSessions(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("limit"), "")
	if err != nil {
		response.ValidationError(c, "Invalid limit")
		return
	}
	sessions, err := h.registryService.ListForCaller(c.Request.Context(), cl.UserID, params.Limit)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession retrieves a session the caller participates in
// GET /v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, role, err := h.registryService.GetSession(c.Request.Context(), cl.UserID, id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session": session,
		"role":    role,
	})
}

// GetState retrieves the live state projection of a session
// GET /v1/sessions/:id/state
func (h *Handler) GetState(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	state, err := h.registryService.GetState(c.Request.Context(), cl.UserID, id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SendMessage appends a message to the session
// POST /v1/sessions/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req domain.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	message, err := h.messagingService.Append(c.Request.Context(), cl, id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, message)
}

// GetMessages retrieves a page of the session's messages in commit order
// GET /v1/sessions/:id/messages?limit=50&page_state=base64
func (h *Handler) GetMessages(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	params, err := pagination.Parse(c.Query("limit"), c.Query("page_state"))
	if err != nil {
		response.ValidationError(c, "Invalid page state")
		return
	}

	messages, nextPageState, err := h.messagingService.GetHistory(c.Request.Context(), cl, id, params.Limit, params.Cursor)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":        messages,
		"next_page_state": pagination.EncodeCursor(nextPageState),
	})
}

// MarkRead marks the counterpart's message as read
// POST /v1/sessions/:id/messages/:message_id/read
func (h *Handler) MarkRead(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	message, err := h.messagingService.MarkRead(c.Request.Context(), cl, id, messageID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, message)
}

// EditMessageRequest carries the replacement content
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage replaces the content of the caller's own message
// PATCH /v1/sessions/:id/messages/:message_id
func (h *Handler) EditMessage(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	message, err := h.messagingService.EditMessage(c.Request.Context(), cl, id, messageID, req.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, message)
}

// resolveRole verifies the caller participates in the session and
// returns their role for the presence coordinator
func (h *Handler) resolveRole(c *gin.Context, cl domain.Caller, id uuid.UUID) (domain.Role, bool) {
	_, role, err := h.registryService.GetSession(c.Request.Context(), cl.UserID, id)
	if err != nil {
		response.FromError(c, err)
		return "", false
	}
	return role, true
}

// ReportJoin reports the caller joining the live call
// POST /v1/sessions/:id/join
func (h *Handler) ReportJoin(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	role, ok := h.resolveRole(c, cl, id)
	if !ok {
		return
	}

	state, err := h.presenceService.ReportJoin(c.Request.Context(), id, role)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// ReportLeave reports the caller leaving the live call
// POST /v1/sessions/:id/leave
func (h *Handler) ReportLeave(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	role, ok := h.resolveRole(c, cl, id)
	if !ok {
		return
	}

	state, err := h.presenceService.ReportLeave(c.Request.Context(), id, role)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// ReportEnd completes the consultation
// POST /v1/sessions/:id/end
func (h *Handler) ReportEnd(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if _, ok := h.resolveRole(c, cl, id); !ok {
		return
	}

	state, err := h.presenceService.ReportEnd(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Cancel aborts a session that has not completed
// POST /v1/sessions/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if _, ok := h.resolveRole(c, cl, id); !ok {
		return
	}

	state, err := h.presenceService.Cancel(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// CreateUploadURL issues a presigned upload URL for an attachment
// POST /v1/sessions/:id/attachments/upload-url
func (h *Handler) CreateUploadURL(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req attachment.UploadURLInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.attachmentService.GenerateUploadURL(c.Request.Context(), cl.UserID, id, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output)
}

// CreateDownloadURL issues a presigned download URL for an attachment
// GET /v1/sessions/:id/attachments/download-url?object_key=...
func (h *Handler) CreateDownloadURL(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}
	id, ok := sessionID(c)
	if !ok {
		return
	}

	objectKey := c.Query("object_key")
	if objectKey == "" {
		response.ValidationError(c, "object_key is required")
		return
	}

	url, err := h.attachmentService.GenerateDownloadURL(c.Request.Context(), cl.UserID, id, objectKey)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"download_url": url})
}

// RegisterPushTokenRequest registers a device for push notifications
type RegisterPushTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=fcm apns"`
}

// RegisterPushToken stores a device push token for the caller
// POST /v1/push/tokens
func (h *Handler) RegisterPushToken(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req RegisterPushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	err := h.pushService.RegisterToken(c.Request.Context(), &push.Token{
		UserID:   cl.UserID,
		Token:    req.Token,
		Platform: push.Platform(req.Platform),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"message": "Token registered"})
}

// UnregisterPushTokenRequest removes a device push token
type UnregisterPushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterPushToken deletes a device push token for the caller
// DELETE /v1/push/tokens
func (h *Handler) UnregisterPushToken(c *gin.Context) {
	cl, ok := caller(c)
	if !ok {
		return
	}

	var req UnregisterPushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.pushService.UnregisterToken(c.Request.Context(), cl.UserID, req.Token); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token removed"})
}
