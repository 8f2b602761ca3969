package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
	ItemBaseOffset  uint32 `json:"item_base_offset"`
	// InfoMarker is the hex-encoded identification block.
	InfoMarker string `json:"info_marker"`
}

// ITEM (client -> server). Never acknowledged directly; watch STATUS.received_counter.
type ItemMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ItemID          uint32 `json:"item_id"`
	FromPlayer      uint32 `json:"from_player"`
}

// STATUS (server -> client) mirrors the diagnostic registers.
type StatusMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FrameCounter    uint32 `json:"frame_counter"`
	ReceivedCounter uint32 `json:"received_counter"`
	Pending         bool   `json:"pending"`
	DebugLastItemID uint32 `json:"debug_last_item_id"`
	DebugLastFrom   uint32 `json:"debug_last_from"`
	ShardMirror     uint32 `json:"shard_mirror"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
