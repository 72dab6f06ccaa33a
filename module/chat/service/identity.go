package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
)

// CustomerProfile is the free-form profile a customer may attach when
// starting a conversation. It is decoded out of the request attributes.
type CustomerProfile struct {
	Name    string `mapstructure:"name"`
	Phone   string `mapstructure:"phone"`
	Email   string `mapstructure:"email"`
	Channel string `mapstructure:"channel"`
}

// StartRequest is the intake payload for a new conversation.
type StartRequest struct {
	CustomerID   string
	SessionToken string
	Fingerprint  string
	DisplayName  string
	Tags         []string
	Attributes   map[string]interface{}
}

// ResolveCustomer derives a stable customer identity from whatever the caller
// supplied, strongest signal first: an explicit id, then a session token,
// then a device fingerprint, and finally a fresh random id for fully
// anonymous visitors.
func ResolveCustomer(req StartRequest) model.Participant {
	id := strings.TrimSpace(req.CustomerID)
	switch {
	case id != "":
	case strings.TrimSpace(req.SessionToken) != "":
		id = "sess-" + shortHash(req.SessionToken)
	case strings.TrimSpace(req.Fingerprint) != "":
		id = "anon-" + shortHash(req.Fingerprint)
	default:
		id = "anon-" + uuid.NewString()
	}

	name := strings.TrimSpace(req.DisplayName)
	profile := DecodeProfile(req.Attributes)
	if name == "" {
		name = profile.Name
	}
	if name == "" {
		name = "Guest"
	}

	return model.Participant{
		ID:          id,
		Type:        model.ParticipantCustomer,
		DisplayName: name,
		Metadata:    req.Attributes,
	}
}

// ResolveAgent builds the agent participant, defaulting the display name.
func ResolveAgent(agentID, displayName string) model.Participant {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "Agent " + agentID
	}
	return model.Participant{
		ID:          agentID,
		Type:        model.ParticipantAgent,
		DisplayName: name,
	}
}

// DecodeProfile extracts the known profile fields from loose attributes.
// Unknown keys are simply ignored.
func DecodeProfile(attributes map[string]interface{}) CustomerProfile {
	var profile CustomerProfile
	if len(attributes) == 0 {
		return profile
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &profile,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return profile
	}
	_ = decoder.Decode(attributes)
	return profile
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
