package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	World           string `json:"world,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	Catalogs        CatalogDigests `json:"catalogs"`
	Params          EngineParams   `json:"params"`
}

type CatalogDigests struct {
	WeightsDigest string `json:"weights_digest"`
	HeadsDigest   string `json:"heads_digest"`
	WeightCount   int    `json:"weight_count"`
	HeadCount     int    `json:"head_count"`
}

type EngineParams struct {
	Normalization float64 `json:"normalization"`
	SpawnLow      float64 `json:"spawn_low"`
	SpawnMid      float64 `json:"spawn_mid"`
	SectionSize   int     `json:"section_size"`
}

// QUERY (client -> server): read the decayed score at a block position.
type QueryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	World           string `json:"world"`
	Pos             [3]int `json:"pos"`
}

// SCORE (server -> client)
type ScoreMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id,omitempty"`
	World           string  `json:"world"`
	Pos             [3]int  `json:"pos"`
	Score           float64 `json:"score"`
}

// DECIDE (client -> server): gate one spawn attempt.
type DecideMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ID              string     `json:"id,omitempty"`
	World           string     `json:"world"`
	Pos             [3]float64 `json:"pos"`
	Kind            string     `json:"kind"`
	Natural         bool       `json:"natural"`
}

// VERDICT (server -> client)
type VerdictMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ID              string   `json:"id,omitempty"`
	Outcome         string   `json:"outcome"`
	Branch          string   `json:"branch"`
	Score           float64  `json:"score,omitempty"`
	ConversionKind  string   `json:"conversion_kind,omitempty"`
	Pool            []string `json:"pool,omitempty"`
}

// MUTATE (client -> server): one block changed. Kind is the new occupant;
// empty means the block was removed. Fire and forget.
type MutateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	World           string `json:"world"`
	Pos             [3]int `json:"pos"`
	Kind            string `json:"kind,omitempty"`
}

// PRESENCE (client -> server): a player is near. Fire and forget.
type PresenceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	World           string `json:"world"`
	Pos             [3]int `json:"pos"`
	Radius          int    `json:"radius,omitempty"`
}

// TOTEM_ADD / TOTEM_REMOVE (client -> server). Fire and forget.
type TotemMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	World           string `json:"world"`
	Pos             [3]int `json:"pos"`
	Kind            string `json:"kind,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}
