package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/service"
	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is what a connected participant may send over a conversation
// socket.
type inboundFrame struct {
	Type     string                 `json:"type"` // message | ping
	Content  string                 `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Server is the websocket gateway: one endpoint per conversation for its
// participants, and one shared endpoint streaming wait-list snapshots to
// agent dashboards.
type Server struct {
	hub         *Hub
	topic       *storage.QueueTopic
	coordinator *service.Coordinator
	presence    *service.PresenceTracker
}

func NewServer(hub *Hub, topic *storage.QueueTopic, coordinator *service.Coordinator, presence *service.PresenceTracker) *Server {
	return &Server{hub: hub, topic: topic, coordinator: coordinator, presence: presence}
}

// HandleConversationWS joins the caller to a conversation room. Inbound
// "message" frames are appended through the coordinator, so socket traffic
// and REST traffic share one write path.
func (s *Server) HandleConversationWS(c *gin.Context) {
	conversationID := c.Param("id")
	participantID := c.Query("participantId")
	participantName := c.Query("displayName")
	asAgent := c.Query("role") == "agent"

	conversation, err := s.coordinator.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	sender := s.resolveSender(conversation, participantID, participantName, asAgent)
	client := NewClient(conn)
	s.hub.Join(conversationID, client)
	safe.Go(client.WritePump)

	defer func() {
		s.hub.Leave(conversationID, client)
		client.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Infof("[ws] read on %s ended: %v", conversationID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Infof("[ws] dropping undecodable frame on %s: %v", conversationID, err)
			continue
		}

		ctx := context.Background()
		switch frame.Type {
		case "ping":
			if err := s.presence.MarkPresent(ctx, sender.ID); err != nil {
				logger.Warnf("[ws] presence refresh for %s failed: %v", sender.ID, err)
			}
		case "message":
			if _, err := s.coordinator.SendMessage(ctx, conversationID, sender, frame.Content, frame.Metadata); err != nil {
				logger.Infof("[ws] inbound message on %s rejected: %v", conversationID, err)
			}
		}
	}
}

// HandleQueueWS streams wait-list snapshots to an agent dashboard. The
// current snapshot is pushed on connect, then every mutation follows via the
// queue topic.
func (s *Server) HandleQueueWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	client := NewClient(conn)
	safe.Go(client.WritePump)

	ctx, cancel := context.WithCancel(context.Background())
	snapshots, stop := s.topic.Subscribe(ctx)
	defer func() {
		cancel()
		stop()
		client.Close()
	}()

	if entries, err := s.coordinator.ListQueue(ctx, 0, 100); err == nil {
		s.push(client, Frame{Type: "queue", Payload: model.QueueSnapshot{Entries: entries}})
	}

	safe.Go(func() {
		for snapshot := range snapshots {
			s.push(client, Frame{Type: "queue", Payload: snapshot})
		}
	})

	// reads only matter for liveness, the dashboard never sends frames
	conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) resolveSender(conversation *model.Conversation, participantID, participantName string, asAgent bool) model.Participant {
	if asAgent {
		if conversation.Agent != nil && (participantID == "" || conversation.Agent.ID == participantID) {
			return *conversation.Agent
		}
		return service.ResolveAgent(participantID, participantName)
	}
	if participantID == "" || conversation.Customer.ID == participantID {
		return conversation.Customer
	}
	return model.Participant{
		ID:          participantID,
		Type:        model.ParticipantCustomer,
		DisplayName: participantName,
	}
}

func (s *Server) push(client *Client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Errorf("[ws] marshal frame failed: %v", err)
		return
	}
	client.Send(data)
}
