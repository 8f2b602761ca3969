package host

import (
	"kirbyam.dev/internal/sim/mailbox"
)

// Frame log entry kinds.
const (
	EntryBoot  = "BOOT"
	EntryFrame = "FRAME"
)

// FrameLogEntry is one line of the frame log. FRAME entries are only written
// for frames where a message was posted or drained.
type FrameLogEntry struct {
	Kind    string           `json:"kind"`
	Frame   uint64           `json:"frame"`
	Boot    *BootRecord      `json:"boot,omitempty"`
	Posted  *mailbox.Message `json:"posted,omitempty"`
	Drained *Delivery        `json:"drained,omitempty"`
	Digest  string           `json:"digest,omitempty"`
}

// BootRecord captures everything needed to rebuild the host for replay.
type BootRecord struct {
	TickRateHz        int    `json:"tick_rate_hz"`
	ItemBaseOffset    uint32 `json:"item_base_offset"`
	MailboxBase       uint32 `json:"mailbox_base"`
	LivesAddr         uint32 `json:"lives_addr"`
	ShardFlagsAddr    uint32 `json:"shard_flags_addr"`
	InitialLives      uint8  `json:"initial_lives"`
	InitialShardFlags uint8  `json:"initial_shard_flags"`
	InfoAddr          uint32 `json:"info_addr"`
	InfoMarker        string `json:"info_marker,omitempty"`
}

// Delivery describes one drained message and the state right after it was applied.
type Delivery struct {
	Seq        uint32 `json:"seq"`
	Frame      uint64 `json:"frame"`
	ItemID     uint32 `json:"item_id"`
	FromPlayer uint32 `json:"from_player"`
	Effect     string `json:"effect"`
	Label      string `json:"label"`
	ShardIndex int    `json:"shard_index"`
	Lives      uint8  `json:"lives"`
	ShardFlags uint8  `json:"shard_flags"`
}

// Status is published after every frame and read lock-free by other goroutines.
type Status struct {
	Frame          uint64           `json:"frame"`
	Registers      mailbox.Snapshot `json:"registers"`
	Lives          uint8            `json:"lives"`
	ShardFlags     uint8            `json:"shard_flags"`
	InboxQueued    bool             `json:"inbox_queued"`
	InboxOffered   uint64           `json:"inbox_offered"`
	InboxDisplaced uint64           `json:"inbox_displaced"`
	Digest         string           `json:"digest"`
}

type FrameLogger interface {
	WriteFrame(entry FrameLogEntry) error
}

type DeliveryIndex interface {
	RecordDelivery(d Delivery)
}
