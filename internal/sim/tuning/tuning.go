package tuning

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"kirbyam.dev/internal/sim/bus"
)

const SchemaVersion = 1

// MailboxSize is the byte length of the register block.
const MailboxSize = 0x20

// InfoMarkerSize is the length of the identification block reserved for external tooling.
const InfoMarkerSize = 16

type Tuning struct {
	SchemaVersion int `yaml:"schema_version"`

	TickRateHz     int    `yaml:"tick_rate_hz"`
	ItemBaseOffset uint32 `yaml:"item_base_offset"`

	Mailbox Mailbox `yaml:"mailbox"`
	Game    Game    `yaml:"game"`
	Info    Info    `yaml:"info"`
}

type Mailbox struct {
	Base Addr `yaml:"base"`
}

type Game struct {
	LivesAddr      Addr  `yaml:"lives_addr"`
	ShardFlagsAddr Addr  `yaml:"shard_flags_addr"`
	InitialLives   uint8 `yaml:"initial_lives"`
	InitialShards  uint8 `yaml:"initial_shard_flags"`
}

type Info struct {
	Addr Addr `yaml:"addr"`
	// Marker is hex; shorter values are zero-padded to InfoMarkerSize.
	Marker string `yaml:"marker"`
}

// Addr accepts either a YAML integer or an int-like string such as "0x0202C000".
type Addr uint32

func (a *Addr) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", n.Line)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(n.Value), 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: bad address %q: %w", n.Line, n.Value, err)
	}
	*a = Addr(v)
	return nil
}

func (a Addr) MarshalYAML() (any, error) { return fmt.Sprintf("0x%08X", uint32(a)), nil }

func (a Addr) String() string { return fmt.Sprintf("0x%08X", uint32(a)) }

// Defaults matches the layout the shipped payload was linked against.
func Defaults() Tuning {
	return Tuning{
		SchemaVersion:  SchemaVersion,
		TickRateHz:     60,
		ItemBaseOffset: 3860000,
		Mailbox:        Mailbox{Base: 0x0202C000},
		Game: Game{
			LivesAddr:      0x02020FE2,
			ShardFlagsAddr: 0x02038970,
			InitialLives:   3,
		},
		Info: Info{Addr: 0x0202C100},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("ram.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("ram.yaml: %w", err)
	}
	return t, nil
}

// InfoMarker decodes Info.Marker into the fixed-size block.
func (t Tuning) InfoMarker() ([InfoMarkerSize]byte, error) {
	var out [InfoMarkerSize]byte
	s := strings.TrimSpace(t.Info.Marker)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("info.marker: %w", err)
	}
	if len(b) > InfoMarkerSize {
		return out, fmt.Errorf("info.marker: %d bytes exceeds %d", len(b), InfoMarkerSize)
	}
	copy(out[:], b)
	return out, nil
}

func (t Tuning) Validate() error {
	if t.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version=%d (expected %d)", t.SchemaVersion, SchemaVersion)
	}
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1, 1000], got %d", t.TickRateHz)
	}
	inImage := func(addr, n uint32) bool {
		return addr >= bus.EWRAMBase && uint64(addr-bus.EWRAMBase)+uint64(n) <= uint64(bus.EWRAMSize)
	}

	base := uint32(t.Mailbox.Base)
	if base%4 != 0 {
		return fmt.Errorf("mailbox.base %s must be word-aligned", t.Mailbox.Base)
	}
	if !inImage(base, MailboxSize) {
		return fmt.Errorf("mailbox.base %s: register block outside EWRAM", t.Mailbox.Base)
	}
	inMailbox := func(addr, n uint32) bool {
		return addr < base+MailboxSize && addr+n > base
	}
	for _, f := range []struct {
		name string
		addr Addr
		n    uint32
	}{
		{"game.lives_addr", t.Game.LivesAddr, 1},
		{"game.shard_flags_addr", t.Game.ShardFlagsAddr, 1},
		{"info.addr", t.Info.Addr, InfoMarkerSize},
	} {
		if !inImage(uint32(f.addr), f.n) {
			return fmt.Errorf("%s %s outside EWRAM", f.name, f.addr)
		}
		if inMailbox(uint32(f.addr), f.n) {
			return fmt.Errorf("%s %s overlaps the mailbox register block", f.name, f.addr)
		}
	}
	if t.Game.LivesAddr == t.Game.ShardFlagsAddr {
		return fmt.Errorf("game.lives_addr and game.shard_flags_addr must differ")
	}
	if _, err := t.InfoMarker(); err != nil {
		return err
	}
	return nil
}
