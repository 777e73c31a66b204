// Package mpptest provides an in-memory fake of the mpp hardware service
// boundary. The fake encodes synchronously: every frame enqueued on the
// input port queues one packet on the output port, and the end-of-stream
// sentinel queues a terminal EOS packet. Failure injection fields script
// device misbehavior per call site.
package mpptest

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/edaniels/mppenc/mpp"
)

// Service is a fake mpp.Service around a single context and allocator.
type Service struct {
	CreateErr error

	ctx   *Context
	alloc *Allocator
}

// NewService returns a fake service whose context reports the given codec
// header bytes.
func NewService(header []byte) *Service {
	return &Service{
		ctx:   &Context{Header: header},
		alloc: &Allocator{},
	}
}

// CreateContext returns the fake's single context.
func (s *Service) CreateContext() (mpp.Context, error) {
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	return s.ctx, nil
}

// Allocator returns the fake's memory manager.
func (s *Service) Allocator() mpp.Allocator {
	return s.alloc
}

// Context returns the concrete fake context for assertions and scripting.
func (s *Service) Context() *Context {
	return s.ctx
}

// Alloc returns the concrete fake allocator for assertions and scripting.
func (s *Service) Alloc() *Allocator {
	return s.alloc
}

// Context is a fake mpp.Context. The exported config fields record what the
// session committed; the Err fields inject failures.
type Context struct {
	mu sync.Mutex

	Coding     mpp.CodingType
	Prep       mpp.PrepConfig
	RC         mpp.RCConfig
	Codec      mpp.CodecConfig
	SEI        mpp.SEIMode
	InTimeout  time.Duration
	OutTimeout time.Duration
	Header     []byte

	InitErr       error
	PrepErr       error
	RCErr         error
	CodecErr      error
	SEIErr        error
	InTimeoutErr  error
	OutTimeoutErr error
	HeaderErr     error

	PollErrs    map[mpp.Port]error
	DequeueNil  map[mpp.Port]bool
	EnqueueErrs map[mpp.Port]error

	// HoldPackets makes the output port hand out empty tasks instead of
	// queued packets, modeling a device that is still working.
	HoldPackets bool

	// Frames records every frame descriptor enqueued on the input port.
	Frames []*mpp.FrameDesc

	pending []*Packet
	encoded int

	ResetCount   int
	DestroyCount int
}

// Init records the coding type.
func (c *Context) Init(coding mpp.CodingType) error {
	if c.InitErr != nil {
		return c.InitErr
	}
	c.Coding = coding
	return nil
}

// SetPrepConfig records the geometry block.
func (c *Context) SetPrepConfig(cfg mpp.PrepConfig) error {
	if c.PrepErr != nil {
		return c.PrepErr
	}
	c.Prep = cfg
	return nil
}

// SetRCConfig records the rate control block.
func (c *Context) SetRCConfig(cfg mpp.RCConfig) error {
	if c.RCErr != nil {
		return c.RCErr
	}
	c.RC = cfg
	return nil
}

// SetCodecConfig records the codec block.
func (c *Context) SetCodecConfig(cfg mpp.CodecConfig) error {
	if c.CodecErr != nil {
		return c.CodecErr
	}
	c.Codec = cfg
	return nil
}

// SetSEIMode records the SEI mode.
func (c *Context) SetSEIMode(mode mpp.SEIMode) error {
	if c.SEIErr != nil {
		return c.SEIErr
	}
	c.SEI = mode
	return nil
}

// SetInputTimeout records the input poll bound.
func (c *Context) SetInputTimeout(timeout time.Duration) error {
	if c.InTimeoutErr != nil {
		return c.InTimeoutErr
	}
	c.InTimeout = timeout
	return nil
}

// SetOutputTimeout records the output poll bound.
func (c *Context) SetOutputTimeout(timeout time.Duration) error {
	if c.OutTimeoutErr != nil {
		return c.OutTimeoutErr
	}
	c.OutTimeout = timeout
	return nil
}

// CodecHeader returns the scripted header bytes.
func (c *Context) CodecHeader() ([]byte, error) {
	if c.HeaderErr != nil {
		return nil, c.HeaderErr
	}
	return c.Header, nil
}

// Poll succeeds on the input port and on the output port whenever a packet
// is queued (or HoldPackets hands out empty tasks); otherwise it reports a
// timeout, modeling the bounded wait.
func (c *Context) Poll(port mpp.Port) error {
	if err := c.PollErrs[port]; err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if port == mpp.PortOutput && len(c.pending) == 0 && !c.HoldPackets {
		return errors.New("poll timed out")
	}
	return nil
}

// Dequeue hands out a task slot. On the output port the task carries the
// oldest queued packet unless HoldPackets is set.
func (c *Context) Dequeue(port mpp.Port) (mpp.Task, error) {
	if c.DequeueNil[port] {
		return nil, nil
	}
	task := &Task{}
	if port == mpp.PortOutput && !c.HoldPackets {
		c.mu.Lock()
		if len(c.pending) > 0 {
			task.packet = c.pending[0]
			c.pending = c.pending[1:]
		}
		c.mu.Unlock()
	}
	return task, nil
}

// Enqueue accepts a task slot back. Input tasks must carry a frame, which is
// recorded and "encoded" into the output queue.
func (c *Context) Enqueue(port mpp.Port, task mpp.Task) error {
	if err := c.EnqueueErrs[port]; err != nil {
		return err
	}
	if port != mpp.PortInput {
		return nil
	}
	t, ok := task.(*Task)
	if !ok || t.frame == nil {
		return errors.New("input task has no frame attached")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, t.frame)
	c.encode(t.frame)
	return nil
}

func (c *Context) encode(frame *mpp.FrameDesc) {
	if frame.Buffer != nil {
		var flags uint32
		if c.encoded == 0 {
			flags = mpp.PacketFlagIntra
		}
		c.encoded++
		c.pending = append(c.pending, NewPacket(
			[]byte(fmt.Sprintf("nal-%d", frame.PTS)),
			frame.PTS,
			frame.DTS,
			flags,
		))
	}
	if frame.EOS {
		c.pending = append(c.pending, NewEOSPacket())
	}
}

// PushPacket queues a scripted packet on the output port ahead of anything
// the fake encodes on its own.
func (c *Context) PushPacket(pkt *Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pkt)
}

// Reset counts resets.
func (c *Context) Reset() error {
	c.ResetCount++
	return nil
}

// Destroy counts destroys.
func (c *Context) Destroy() {
	c.DestroyCount++
}

// Task is a fake task slot.
type Task struct {
	frame  *mpp.FrameDesc
	packet *Packet
}

// SetFrame attaches the frame.
func (t *Task) SetFrame(_ mpp.MetaKey, frame *mpp.FrameDesc) {
	t.frame = frame
}

// Packet detaches the carried packet, if any.
func (t *Task) Packet(_ mpp.MetaKey) mpp.Packet {
	if t.packet == nil {
		return nil
	}
	pkt := t.packet
	t.packet = nil
	return pkt
}

// Packet is a fake device packet.
type Packet struct {
	data     []byte
	pts, dts int64
	flags    uint32
	eos      bool
	released int
}

// NewPacket builds a fake packet with the given payload, timestamps, and
// flag word.
func NewPacket(data []byte, pts, dts int64, flags uint32) *Packet {
	return &Packet{data: data, pts: pts, dts: dts, flags: flags}
}

// NewEOSPacket builds a fake terminal packet.
func NewEOSPacket() *Packet {
	return &Packet{eos: true}
}

func (p *Packet) Data() []byte { return p.data }

func (p *Packet) PTS() int64 { return p.pts }

func (p *Packet) DTS() int64 { return p.dts }

func (p *Packet) Flags() uint32 { return p.flags }

func (p *Packet) EOS() bool { return p.eos }

// Release errors on a double release so ownership bugs surface in tests.
func (p *Packet) Release() error {
	p.released++
	if p.released > 1 {
		return errors.New("packet released twice")
	}
	return nil
}

// Released reports whether the packet was released exactly once.
func (p *Packet) Released() bool {
	return p.released == 1
}

// Allocator is a fake mpp.Allocator tracking live imports.
type Allocator struct {
	mu        sync.Mutex
	ImportErr error
	active    int
	imports   int
}

// Import registers the descriptor, rejecting obviously invalid ones.
func (a *Allocator) Import(fd, size int) (mpp.Buffer, error) {
	if a.ImportErr != nil {
		return nil, a.ImportErr
	}
	if fd < 0 || size <= 0 {
		return nil, errors.Errorf("cannot map descriptor (fd = %d, size = %d)", fd, size)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active++
	a.imports++
	return &Buffer{alloc: a}, nil
}

// Active returns the number of unreleased buffer handles.
func (a *Allocator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Imports returns the number of successful imports.
func (a *Allocator) Imports() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.imports
}

// Buffer is a fake imported buffer handle.
type Buffer struct {
	alloc    *Allocator
	released bool
}

// Release errors on a double release.
func (b *Buffer) Release() error {
	if b.released {
		return errors.New("buffer released twice")
	}
	b.released = true
	b.alloc.mu.Lock()
	defer b.alloc.mu.Unlock()
	b.alloc.active--
	return nil
}
