package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"

	TypeQuery   = "QUERY"
	TypeScore   = "SCORE"
	TypeDecide  = "DECIDE"
	TypeVerdict = "VERDICT"

	TypeMutate      = "MUTATE"
	TypePresence    = "PRESENCE"
	TypeTotemAdd    = "TOTEM_ADD"
	TypeTotemRemove = "TOTEM_REMOVE"

	TypeAck = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
