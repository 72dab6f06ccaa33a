package model

type ParticipantType string

const (
	ParticipantCustomer ParticipantType = "CUSTOMER"
	ParticipantAgent    ParticipantType = "AGENT"
	ParticipantSystem   ParticipantType = "SYSTEM"
)

// Participant is one side of a conversation: the customer, an agent, or the
// system itself (for synthesized notices).
type Participant struct {
	ID          string                 `json:"id"`
	Type        ParticipantType        `json:"type"`
	DisplayName string                 `json:"displayName"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SystemParticipant is the sender of synthesized messages such as closure
// notices.
func SystemParticipant() Participant {
	return Participant{
		ID:          "system",
		Type:        ParticipantSystem,
		DisplayName: "System",
	}
}
