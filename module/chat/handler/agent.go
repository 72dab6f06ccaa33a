package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/service"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// AgentHandler serves the agent-facing endpoints: the wait-list, claims, and
// the agent's own workload.
type AgentHandler struct {
	coordinator *service.Coordinator
	presence    *service.PresenceTracker
}

func NewAgentHandler(coordinator *service.Coordinator, presence *service.PresenceTracker) *AgentHandler {
	return &AgentHandler{coordinator: coordinator, presence: presence}
}

// Queue returns one page of the wait-list in enqueue order.
func (h *AgentHandler) Queue(c *gin.Context) {
	page := intQuery(c, "page", 0)
	size := intQuery(c, "size", 50)
	entries, err := h.coordinator.ListQueue(c.Request.Context(), page, size)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	c.JSON(http.StatusOK, model.QueueSnapshot{Entries: entries})
}

type acceptRequest struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// Accept claims a queued conversation for the agent. Retrying the same claim
// is safe; claiming someone else's conversation is a conflict.
func (h *AgentHandler) Accept(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AgentID == "" {
		writeError(c, errs.Validation("agentId is required"))
		return
	}
	conversation, err := h.coordinator.AcceptConversation(c.Request.Context(), c.Param("id"), req.AgentID, req.AgentName)
	if err != nil {
		writeError(c, err)
		return
	}

	// an accepted claim doubles as an agent heartbeat
	_ = h.presence.MarkPresent(c.Request.Context(), req.AgentID)
	c.JSON(http.StatusOK, conversation)
}

// Conversations lists the agent's conversations, most recently active first.
// The status query accepts a comma-separated status filter.
func (h *AgentHandler) Conversations(c *gin.Context) {
	agentID := c.Param("agentId")

	statuses := map[model.ConversationStatus]struct{}{}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, ok := model.ParseStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !ok {
				writeError(c, errs.Validation("unknown status "+s))
				return
			}
			statuses[status] = struct{}{}
		}
	}

	conversations, err := h.coordinator.GetConversationsForAgent(c.Request.Context(), agentID, statuses)
	if err != nil {
		writeError(c, err)
		return
	}
	if conversations == nil {
		conversations = []*model.Conversation{}
	}
	c.JSON(http.StatusOK, conversations)
}

func intQuery(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
