package mppenc

import (
	"sync"

	"github.com/edaniels/mppenc/mpp"
)

// A Packet is one compressed unit produced by the session. Data points into
// device-owned memory; the packet holds a reference on its session so the
// hardware context stays alive until every emitted packet is released.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	KeyFrame bool

	dev         mpp.Packet
	session     *Session
	releaseOnce sync.Once
}

// Release returns the packet's memory to the device and drops the packet's
// session reference. Data must not be used afterward. Release is idempotent.
func (p *Packet) Release() {
	p.releaseOnce.Do(func() {
		if err := p.dev.Release(); err != nil {
			p.session.logger.Warnw("failed to release device packet", "error", err)
		}
		p.session.deref()
	})
}
