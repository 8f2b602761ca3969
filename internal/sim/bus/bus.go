package bus

import "encoding/binary"

// GBA external work RAM.
const (
	EWRAMBase uint32 = 0x02000000
	EWRAMSize uint32 = 256 * 1024
)

// Bus is byte-addressed little-endian memory as seen by code running on the target.
type Bus interface {
	ReadU8(addr uint32) uint8
	WriteU8(addr uint32, v uint8)
	ReadU32(addr uint32) uint32
	WriteU32(addr uint32, v uint32)
}

// Memory is a single contiguous mapped region. Accesses outside the region
// behave like open bus: reads return 0, writes are dropped.
type Memory struct {
	base uint32
	data []byte
}

func NewMemory(base, size uint32) *Memory {
	return &Memory{base: base, data: make([]byte, size)}
}

func NewEWRAM() *Memory { return NewMemory(EWRAMBase, EWRAMSize) }

// Contains reports whether [addr, addr+n) is fully mapped.
func (m *Memory) Contains(addr, n uint32) bool {
	if addr < m.base {
		return false
	}
	off := uint64(addr - m.base)
	return off+uint64(n) <= uint64(len(m.data))
}

func (m *Memory) ReadU8(addr uint32) uint8 {
	if !m.Contains(addr, 1) {
		return 0
	}
	return m.data[addr-m.base]
}

func (m *Memory) WriteU8(addr uint32, v uint8) {
	if !m.Contains(addr, 1) {
		return
	}
	m.data[addr-m.base] = v
}

func (m *Memory) ReadU32(addr uint32) uint32 {
	if !m.Contains(addr, 4) {
		return 0
	}
	off := addr - m.base
	return binary.LittleEndian.Uint32(m.data[off : off+4])
}

func (m *Memory) WriteU32(addr uint32, v uint32) {
	if !m.Contains(addr, 4) {
		return
	}
	off := addr - m.base
	binary.LittleEndian.PutUint32(m.data[off:off+4], v)
}

// Load copies b into memory starting at addr, clipped to the mapped region.
func (m *Memory) Load(addr uint32, b []byte) {
	for i, v := range b {
		m.WriteU8(addr+uint32(i), v)
	}
}

// Dump returns a copy of n bytes starting at addr; unmapped bytes read as 0.
func (m *Memory) Dump(addr, n uint32) []byte {
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		out[i] = m.ReadU8(addr + i)
	}
	return out
}
