package game

import "kirbyam.dev/internal/sim/bus"

// State overlays the two game-owned bytes the mailbox core is allowed to mutate.
type State struct {
	bus            bus.Bus
	livesAddr      uint32
	shardFlagsAddr uint32
}

func NewState(b bus.Bus, livesAddr, shardFlagsAddr uint32) *State {
	return &State{bus: b, livesAddr: livesAddr, shardFlagsAddr: shardFlagsAddr}
}

func (s *State) Lives() uint8      { return s.bus.ReadU8(s.livesAddr) }
func (s *State) SetLives(v uint8)  { s.bus.WriteU8(s.livesAddr, v) }
func (s *State) ShardFlags() uint8 { return s.bus.ReadU8(s.shardFlagsAddr) }

func (s *State) OrShardFlags(mask uint8) {
	s.bus.WriteU8(s.shardFlagsAddr, s.bus.ReadU8(s.shardFlagsAddr)|mask)
}

// Init seeds the fields the way the game would at boot.
func (s *State) Init(lives, shardFlags uint8) {
	s.bus.WriteU8(s.livesAddr, lives)
	s.bus.WriteU8(s.shardFlagsAddr, shardFlags)
}
