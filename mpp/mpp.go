// Package mpp describes the boundary to a Rockchip MPP style hardware video
// encoder service. The service runs asynchronously inside the device and is
// driven through two independent task ports (input for frames, output for
// packets); everything here is an interface so that the actual transport
// (ioctl, vendor library, or a test fake) stays out of the session logic.
package mpp

import "time"

// A Service is the entry point to the hardware. It hands out encode contexts
// and access to the device's memory manager.
type Service interface {
	CreateContext() (Context, error)
	Allocator() Allocator
}

// A Context is one hardware encode session. All methods are driven from a
// single logical caller; the device serializes the two ports internally.
type Context interface {
	// Init binds the context to a coding type before any configuration.
	Init(coding CodingType) error

	// The three configuration commits. Each is an independent call against
	// the device; the first failure aborts configuration.
	SetPrepConfig(cfg PrepConfig) error
	SetRCConfig(cfg RCConfig) error
	SetCodecConfig(cfg CodecConfig) error

	SetSEIMode(mode SEIMode) error
	SetInputTimeout(timeout time.Duration) error
	SetOutputTimeout(timeout time.Duration) error

	// CodecHeader returns the out-of-band parameter data (e.g. SPS/PPS)
	// produced by the device as a side effect of configuration. A nil
	// slice with a nil error means the codec produces no header.
	CodecHeader() ([]byte, error)

	// Poll waits, up to the configured timeout for the given port, for the
	// port to have a task available.
	Poll(port Port) error
	// Dequeue takes a task slot from the given port after a successful poll.
	Dequeue(port Port) (Task, error)
	// Enqueue hands a task slot back to the given port.
	Enqueue(port Port, task Task) error

	Reset() error
	Destroy()
}

// A Task is an opaque device-issued token representing one slot in a port's
// queue. It is scoped to a single dequeue/enqueue round and never persisted.
type Task interface {
	// SetFrame attaches a frame descriptor to the task under the given key.
	SetFrame(key MetaKey, frame *FrameDesc)
	// Packet detaches and returns the packet stored under the given key,
	// or nil if none is attached.
	Packet(key MetaKey) Packet
}

// An Allocator is the device's memory manager. It registers externally-owned
// DMA memory with the device without copying.
type Allocator interface {
	// Import wraps the dma-buf descriptor into a device-usable buffer. The
	// caller keeps ownership of the fd itself.
	Import(fd, size int) (Buffer, error)
}

// A Buffer is an imported device buffer handle. Releasing the handle does not
// release the underlying memory while the device holds its own reference.
type Buffer interface {
	Release() error
}

// A Packet is a compressed unit produced by the device. Its data lives in
// device-owned memory until Release.
type Packet interface {
	Data() []byte
	PTS() int64
	DTS() int64
	Flags() uint32
	EOS() bool
	Release() error
}

// Port is one of the two directions through which tasks are exchanged.
type Port int

const (
	// PortInput accepts frames for encoding.
	PortInput Port = iota
	// PortOutput yields compressed packets.
	PortOutput
)

func (p Port) String() string {
	switch p {
	case PortInput:
		return "input"
	case PortOutput:
		return "output"
	default:
		return "unknown"
	}
}

// MetaKey identifies a payload attached to a task.
type MetaKey int

const (
	// KeyInputFrame is the fixed key frames are attached under on the input port.
	KeyInputFrame MetaKey = iota
	// KeyOutputPacket is the fixed key packets are stored under on the output port.
	KeyOutputPacket
)

// PacketFlagIntra marks an intra (key) frame in a packet's flag word.
const PacketFlagIntra uint32 = 0x8

// DefaultPollTimeout bounds a single poll on either port.
const DefaultPollTimeout = 100 * time.Millisecond

// FrameDesc describes one frame submitted into the input port. It is built
// fresh per submission and not reused after the submission call completes.
type FrameDesc struct {
	PTS       int64
	DTS       int64
	Width     int
	Height    int
	HorStride int
	VerStride int
	Format    FrameFormat
	EOS       bool
	Buffer    Buffer
}
