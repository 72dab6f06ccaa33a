package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashik1291/customer-support-live-chat-system/service/chat"
)

// Register mounts every HTTP and websocket route on the engine.
func Register(r *gin.Engine, conversations *ConversationHandler, agents *AgentHandler, ws *chat.Server) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/conversations", conversations.Start)
		api.GET("/conversations/:id", conversations.Get)
		api.POST("/conversations/:id/messages", conversations.SendMessage)
		api.GET("/conversations/:id/messages", conversations.Messages)
		api.POST("/conversations/:id/close", conversations.Close)
		api.GET("/conversations/:id/queue-position", conversations.QueuePosition)
		api.POST("/presence/heartbeat", conversations.Heartbeat)
		api.GET("/presence/:participantId", conversations.Presence)

		api.GET("/agent/queue", agents.Queue)
		api.POST("/agent/conversations/:id/accept", agents.Accept)
		api.GET("/agent/:agentId/conversations", agents.Conversations)
	}

	r.GET("/ws/conversations/:id", ws.HandleConversationWS)
	r.GET("/ws/agent/queue", ws.HandleQueueWS)
}
