package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/service"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// ConversationHandler serves the customer-facing conversation endpoints.
type ConversationHandler struct {
	coordinator *service.Coordinator
	presence    *service.PresenceTracker
}

func NewConversationHandler(coordinator *service.Coordinator, presence *service.PresenceTracker) *ConversationHandler {
	return &ConversationHandler{coordinator: coordinator, presence: presence}
}

type startConversationRequest struct {
	CustomerID   string                 `json:"customerId"`
	SessionToken string                 `json:"sessionToken"`
	Fingerprint  string                 `json:"fingerprint"`
	DisplayName  string                 `json:"displayName"`
	Tags         []string               `json:"tags"`
	Attributes   map[string]interface{} `json:"attributes"`
}

// Start opens a new conversation and places it in the wait-list.
func (h *ConversationHandler) Start(c *gin.Context) {
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Validation(err.Error()))
		return
	}
	conversation, err := h.coordinator.StartConversation(c.Request.Context(), service.StartRequest{
		CustomerID:   req.CustomerID,
		SessionToken: req.SessionToken,
		Fingerprint:  req.Fingerprint,
		DisplayName:  req.DisplayName,
		Tags:         req.Tags,
		Attributes:   req.Attributes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

// Get returns the conversation record.
func (h *ConversationHandler) Get(c *gin.Context) {
	conversation, err := h.coordinator.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

type sendMessageRequest struct {
	SenderID   string                 `json:"senderId"`
	SenderName string                 `json:"senderName"`
	AsAgent    bool                   `json:"asAgent"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// SendMessage appends a message to the conversation log.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Validation(err.Error()))
		return
	}

	conversationID := c.Param("id")
	conversation, err := h.coordinator.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}

	sender := resolveSender(conversation, req.SenderID, req.SenderName, req.AsAgent)
	message, err := h.coordinator.SendMessage(c.Request.Context(), conversationID, sender, req.Content, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// Messages returns the tail of the message log.
func (h *ConversationHandler) Messages(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	messages, err := h.coordinator.GetRecentMessages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

type closeConversationRequest struct {
	ClosedByID   string `json:"closedById"`
	ClosedByName string `json:"closedByName"`
	AsAgent      bool   `json:"asAgent"`
}

// Close ends the conversation. Closing an already closed conversation
// returns the record unchanged.
func (h *ConversationHandler) Close(c *gin.Context) {
	var req closeConversationRequest
	// body is optional, an empty close means the customer left
	_ = c.ShouldBindJSON(&req)

	var closedBy *model.Participant
	if req.ClosedByID != "" {
		p := model.Participant{
			ID:          req.ClosedByID,
			Type:        model.ParticipantCustomer,
			DisplayName: req.ClosedByName,
		}
		if req.AsAgent {
			p.Type = model.ParticipantAgent
		}
		closedBy = &p
	}

	conversation, err := h.coordinator.CloseConversation(c.Request.Context(), c.Param("id"), closedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// QueuePosition reports the conversation's place in the wait-list.
func (h *ConversationHandler) QueuePosition(c *gin.Context) {
	position, err := h.coordinator.QueuePosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": position})
}

type heartbeatRequest struct {
	ParticipantID string `json:"participantId"`
}

// Heartbeat refreshes the participant's presence marker.
func (h *ConversationHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ParticipantID == "" {
		writeError(c, errs.Validation("participantId is required"))
		return
	}
	if err := h.presence.MarkPresent(c.Request.Context(), req.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Presence reports a participant's last heartbeat.
func (h *ConversationHandler) Presence(c *gin.Context) {
	participantID := c.Param("participantId")
	lastSeen, err := h.presence.LastSeen(c.Request.Context(), participantID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"participantId": participantID, "online": !lastSeen.IsZero()}
	if !lastSeen.IsZero() {
		resp["lastSeen"] = lastSeen
	}
	c.JSON(http.StatusOK, resp)
}

func resolveSender(conversation *model.Conversation, senderID, senderName string, asAgent bool) model.Participant {
	if asAgent {
		if conversation.Agent != nil && (senderID == "" || conversation.Agent.ID == senderID) {
			return *conversation.Agent
		}
		return service.ResolveAgent(senderID, senderName)
	}
	if senderID == "" || conversation.Customer.ID == senderID {
		return conversation.Customer
	}
	return model.Participant{
		ID:          senderID,
		Type:        model.ParticipantCustomer,
		DisplayName: senderName,
	}
}
