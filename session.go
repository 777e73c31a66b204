// Package mppenc drives a Rockchip MPP style hardware video encoder through
// its session-oriented, two-port task protocol. A Session commits the device
// configuration once, then passes externally-allocated DMA frames through the
// input port and retrieves compressed packets from the output port.
package mppenc

import (
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	mediacodec "github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/edaniels/mppenc/codec"
	"github.com/edaniels/mppenc/mpp"
)

// Logger is the default logger sessions use when none is set on their config.
var Logger = golog.Global()

// A SessionConfig describes the stream a session will encode. Video and
// BaseParams carry the requested geometry, pixel format, frame rate, bitrate,
// and GOP length; the rest tunes the hardware policy.
type SessionConfig struct {
	Name   string
	Coding mpp.CodingType
	Video  prop.Video
	mediacodec.BaseParams

	RCMode    mpp.RCMode
	RCQuality mpp.RCQuality

	// Profile and Level request codec-specific tiers; zero values let the
	// codec binding pick its defaults.
	Profile int
	Level   int

	// InputTimeout and OutputTimeout bound a single poll on each port.
	// Zero means mpp.DefaultPollTimeout.
	InputTimeout  time.Duration
	OutputTimeout time.Duration

	Logger golog.Logger
}

// A Session owns one hardware encode context for the lifetime of a stream.
// A session must not be used from multiple goroutines concurrently.
type Session struct {
	mu     sync.Mutex
	name   string
	ctx    mpp.Context
	alloc  mpp.Allocator
	logger golog.Logger

	extradata  []byte
	eosReached bool
	drained    bool
	closed     bool

	// ref counts the explicit close plus every outstanding packet; the
	// context is reset and destroyed when it reaches zero.
	refMu sync.Mutex
	ref   utils.RefCountedValue
}

// NewSession negotiates and commits the device configuration for the given
// stream and returns a ready session. The coding type must have a registered
// codec binding (see codec subpackages).
func NewSession(service mpp.Service, config SessionConfig) (*Session, error) {
	logger := config.Logger
	if logger == nil {
		logger = Logger
	}
	name := config.Name
	if name == "" {
		name = uuid.NewString()
	}

	entry, ok := codec.Lookup(config.Coding)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedCodec, "coding type %q", config.Coding)
	}
	devFormat, ok := mpp.DeviceFormat(config.Video.FrameFormat)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", config.Video.FrameFormat)
	}

	bitRate := config.BitRate
	if bitRate == 0 {
		bitRate = DefaultBitRate
	}
	gop := config.KeyFrameInterval
	if gop == 0 {
		gop = codec.DefaultKeyFrameInterval
	}
	inTimeout := config.InputTimeout
	if inTimeout == 0 {
		inTimeout = mpp.DefaultPollTimeout
	}
	outTimeout := config.OutputTimeout
	if outTimeout == 0 {
		outTimeout = mpp.DefaultPollTimeout
	}

	ctx, err := service.CreateContext()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encode context")
	}
	logger.Debugw("initializing encoder session", "name", name, "coding", config.Coding)

	abort := func(err error) error {
		return multierr.Combine(err, ctx.Reset())
	}

	if err := ctx.Init(config.Coding); err != nil {
		defer ctx.Destroy()
		return nil, abort(errors.Wrap(err, "failed to initialize encode context"))
	}

	prep := mpp.PrepConfig{
		Width:     config.Video.Width,
		Height:    config.Video.Height,
		HorStride: config.Video.Width,
		VerStride: config.Video.Height,
		Format:    devFormat,
		Rotation:  mpp.Rotation0,
	}
	if err := ctx.SetPrepConfig(prep); err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "prep", Err: err})
	}

	rcCfg, codecCfg, err := entry.Configure(codec.StreamParams{
		Width:     config.Video.Width,
		Height:    config.Video.Height,
		FrameRate: config.Video.FrameRate,
		BitRate:   bitRate,
		GOP:       gop,
		RCMode:    config.RCMode,
		RCQuality: config.RCQuality,
		Profile:   config.Profile,
		Level:     config.Level,
	}, logger)
	if err != nil {
		defer ctx.Destroy()
		return nil, abort(err)
	}
	if err := ctx.SetRCConfig(rcCfg); err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "rate-control", Err: err})
	}
	if err := ctx.SetCodecConfig(codecCfg); err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "codec", Err: err})
	}
	if err := ctx.SetSEIMode(mpp.SEIModeOneFrame); err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "sei", Err: err})
	}
	if err := ctx.SetInputTimeout(inTimeout); err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "input-timeout", Err: err})
	}
	if err := ctx.SetOutputTimeout(outTimeout); err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "output-timeout", Err: err})
	}

	header, err := ctx.CodecHeader()
	if err != nil {
		defer ctx.Destroy()
		return nil, abort(&ConfigError{Stage: "codec-header", Err: err})
	}

	s := &Session{
		name:   name,
		ctx:    ctx,
		alloc:  service.Allocator(),
		logger: logger,
	}
	s.ref = utils.NewRefCountedValue(s)
	s.ref.Ref()
	if len(header) != 0 {
		s.setExtradata(header)
	}

	logger.Debugw("encoder session initialized", "name", name, "extradata_len", len(s.extradata))
	return s, nil
}

// DefaultBitRate is used when a session config leaves the bitrate unset.
const DefaultBitRate = 3_200_000

// Name returns the session's name.
func (s *Session) Name() string {
	return s.name
}

// Extradata returns the codec header bytes (e.g. SPS/PPS) produced during
// configuration. The slice is owned by the session and valid for its life.
func (s *Session) Extradata() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extradata
}

// setExtradata copies the header into the session-owned buffer, reallocating
// only when the size changed.
func (s *Session) setExtradata(header []byte) {
	if len(s.extradata) != len(header) {
		s.extradata = make([]byte, len(header))
	}
	copy(s.extradata, header)
}

// EncodeOne submits one frame and attempts one packet retrieval. A nil frame
// marks end-of-stream; afterwards only Retrieve should be called until it
// returns ErrStreamEnded.
//
// A (nil, nil) return means no packet was produced this call; the hardware
// is still working. ErrHardwareBusy means the input port poll timed out and
// the same frame should be resubmitted.
func (s *Session) EncodeOne(f *Frame) (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	if f == nil {
		if !s.eosReached {
			s.logger.Debugw("end of stream requested", "name", s.name)
			s.eosReached = true
		}
		if err := s.pumpFrame(nil); err != nil {
			return nil, errors.Wrap(err, "failed to send EOS to encoder")
		}
	} else if err := s.pumpFrame(f); err != nil {
		return nil, err
	}

	pkt, err := s.drainPacket()
	if errors.Is(err, ErrHardwareBusy) {
		// the frame was accepted; the packet just is not ready yet
		return nil, nil
	}
	return pkt, err
}

// Retrieve attempts one packet retrieval without submitting a frame. It
// returns (nil, nil) when no packet is ready, ErrHardwareBusy on an output
// poll timeout, and ErrStreamEnded once the device has acknowledged
// end-of-stream.
func (s *Session) Retrieve() (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.drainPacket()
}

// Close releases the caller's reference on the session. The hardware context
// is reset and destroyed once all outstanding packets are released as well.
// Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.deref()
	return nil
}

// addRef takes a reference on behalf of an emitted packet.
func (s *Session) addRef() {
	s.refMu.Lock()
	s.ref.Ref()
	s.refMu.Unlock()
}

func (s *Session) deref() {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if s.ref.Deref() {
		if err := s.ctx.Reset(); err != nil {
			s.logger.Warnw("failed to reset encode context", "name", s.name, "error", err)
		}
		s.ctx.Destroy()
	}
}
