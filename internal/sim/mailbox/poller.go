package mailbox

// Applier turns a drained item id into a game-state mutation. It must be total.
type Applier interface {
	Apply(itemID uint32)
}

// Poller drains at most one message per call. It is the only caller of its Applier.
type Poller struct {
	core    CoreView
	applier Applier
}

func NewPoller(core CoreView, applier Applier) *Poller {
	return &Poller{core: core, applier: applier}
}

// Poll runs once per frame. The frame counter always advances. A pending
// message is counted, mirrored, applied and then acknowledged, so the flag
// is back to 0 before Poll returns and only after the effect is visible.
func (p *Poller) Poll() {
	p.core.TickFrame()

	if !p.core.Pending() {
		return
	}

	p.core.CountReceived()
	msg := p.core.Payload()
	p.core.MirrorLast(msg)
	p.applier.Apply(msg.ItemID)
	p.core.Ack()
}
