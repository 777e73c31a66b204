package mppenc

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/edaniels/mppenc/codec/h264"
	"github.com/edaniels/mppenc/mpp"
	"github.com/edaniels/mppenc/mpp/mpptest"
)

var testHeader = []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x64, 0x00, 0x29}

func testConfig(t *testing.T) SessionConfig {
	t.Helper()
	return SessionConfig{
		Coding: mpp.CodingAVC,
		Video: prop.Video{
			Width:       1920,
			Height:      1080,
			FrameRate:   30,
			FrameFormat: frame.FormatNV12,
		},
		BaseParams: codec.BaseParams{
			BitRate:          4_000_000,
			KeyFrameInterval: 30,
		},
		Logger: golog.NewTestLogger(t),
	}
}

func nv12Frame(pts int64) *Frame {
	return &Frame{
		PTS:    pts,
		DTS:    pts,
		Width:  1920,
		Height: 1080,
		Format: frame.FormatNV12,
		FD:     7,
		Size:   1920 * 1080 * 3 / 2,
		Planes: []Plane{
			{Offset: 0, Pitch: 1920},
			{Offset: 1920 * 1080, Pitch: 1920},
		},
	}
}

func TestNewSessionCommitsConfig(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	ctx := svc.Context()
	test.That(t, ctx.Coding, test.ShouldEqual, mpp.CodingAVC)
	test.That(t, ctx.Prep, test.ShouldResemble, mpp.PrepConfig{
		Width:     1920,
		Height:    1080,
		HorStride: 1920,
		VerStride: 1080,
		Format:    mpp.FormatYUV420SP,
		Rotation:  mpp.Rotation0,
	})
	test.That(t, ctx.RC.BPSTarget, test.ShouldEqual, 4_000_000)
	test.That(t, ctx.RC.BPSMax, test.ShouldEqual, 4_000_000*17/16)
	test.That(t, ctx.RC.BPSMin, test.ShouldEqual, 4_000_000*15/16)
	test.That(t, ctx.RC.GOP, test.ShouldEqual, 30)
	test.That(t, ctx.Codec.H264.Profile, test.ShouldEqual, h264.ProfileHigh)
	test.That(t, ctx.Codec.H264.EntropyCodingMode, test.ShouldEqual, 1)
	test.That(t, ctx.SEI, test.ShouldEqual, mpp.SEIModeOneFrame)
	test.That(t, ctx.InTimeout, test.ShouldEqual, mpp.DefaultPollTimeout)
	test.That(t, ctx.OutTimeout, test.ShouldEqual, mpp.DefaultPollTimeout)
	test.That(t, sess.Extradata(), test.ShouldResemble, testHeader)
}

func TestNewSessionUnsupportedCodec(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	config := testConfig(t)
	config.Coding = mpp.CodingMJPEG
	_, err := NewSession(svc, config)
	test.That(t, errors.Is(err, ErrUnsupportedCodec), test.ShouldBeTrue)

	config.Coding = mpp.CodingUnused
	_, err = NewSession(svc, config)
	test.That(t, errors.Is(err, ErrUnsupportedCodec), test.ShouldBeTrue)
}

func TestNewSessionUnsupportedFormat(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	config := testConfig(t)
	config.Video.FrameFormat = frame.FormatI444
	_, err := NewSession(svc, config)
	test.That(t, errors.Is(err, ErrUnsupportedFormat), test.ShouldBeTrue)
}

func TestNewSessionConfigError(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	svc.Context().RCErr = errors.New("device says no")
	_, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldNotBeNil)
	var configErr *ConfigError
	test.That(t, errors.As(err, &configErr), test.ShouldBeTrue)
	test.That(t, configErr.Stage, test.ShouldEqual, "rate-control")
	test.That(t, svc.Context().ResetCount, test.ShouldEqual, 1)
	test.That(t, svc.Context().DestroyCount, test.ShouldEqual, 1)
}

func TestEncodeRoundTrip(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)

	pkt, err := sess.EncodeOne(nv12Frame(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldNotBeNil)
	test.That(t, pkt.Data, test.ShouldResemble, []byte("nal-1"))
	test.That(t, pkt.PTS, test.ShouldEqual, 1)
	test.That(t, pkt.KeyFrame, test.ShouldBeTrue)
	pkt.Release()

	pkt, err = sess.EncodeOne(nv12Frame(2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldNotBeNil)
	test.That(t, pkt.KeyFrame, test.ShouldBeFalse)
	pkt.Release()

	// buffer handles are released on every submission
	test.That(t, svc.Alloc().Imports(), test.ShouldEqual, 2)
	test.That(t, svc.Alloc().Active(), test.ShouldEqual, 0)

	desc := svc.Context().Frames[0]
	test.That(t, desc.HorStride, test.ShouldEqual, 1920)
	test.That(t, desc.VerStride, test.ShouldEqual, 1080)
	test.That(t, desc.Format, test.ShouldEqual, mpp.FormatYUV420SP)
	test.That(t, desc.EOS, test.ShouldBeFalse)

	test.That(t, sess.Close(), test.ShouldBeNil)
	test.That(t, svc.Context().DestroyCount, test.ShouldEqual, 1)
}

func TestPackedFormatStride(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	config := testConfig(t)
	config.Video.FrameFormat = frame.FormatYUY2
	sess, err := NewSession(svc, config)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	f := &Frame{
		PTS:    1,
		DTS:    1,
		Width:  1920,
		Height: 1080,
		Format: frame.FormatYUY2,
		FD:     7,
		Size:   1920 * 1080 * 2,
		Planes: []Plane{{Offset: 0, Pitch: 1920}},
	}
	pkt, err := sess.EncodeOne(f)
	test.That(t, err, test.ShouldBeNil)
	pkt.Release()

	desc := svc.Context().Frames[0]
	test.That(t, desc.HorStride, test.ShouldEqual, 2*1920)
	test.That(t, desc.VerStride, test.ShouldEqual, 1080)
	test.That(t, desc.Format, test.ShouldEqual, mpp.FormatYUV422YUYV)
}

func TestTimestampFallback(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Context().PushPacket(mpptest.NewPacket([]byte("a"), -1, 5, 0))
	pkt, err := sess.Retrieve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt.PTS, test.ShouldEqual, 5)
	test.That(t, pkt.DTS, test.ShouldEqual, 5)
	pkt.Release()

	svc.Context().PushPacket(mpptest.NewPacket([]byte("b"), 7, -1, 0))
	pkt, err = sess.Retrieve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt.PTS, test.ShouldEqual, 7)
	test.That(t, pkt.DTS, test.ShouldEqual, 7)
	pkt.Release()

	// zero is treated as unset, so both stay zero
	svc.Context().PushPacket(mpptest.NewPacket([]byte("c"), 0, 0, 0))
	pkt, err = sess.Retrieve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt.PTS, test.ShouldEqual, 0)
	test.That(t, pkt.DTS, test.ShouldEqual, 0)
	pkt.Release()
}

func TestEndOfStream(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	pkt, err := sess.EncodeOne(nv12Frame(1))
	test.That(t, err, test.ShouldBeNil)
	pkt.Release()

	// hold packets back so the EOS acknowledgment only shows up on a
	// later retrieval
	svc.Context().HoldPackets = true
	pkt, err = sess.EncodeOne(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldBeNil)

	desc := svc.Context().Frames[1]
	test.That(t, desc.EOS, test.ShouldBeTrue)
	test.That(t, desc.Buffer, test.ShouldBeNil)

	pkt, err = sess.Retrieve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldBeNil)

	svc.Context().HoldPackets = false
	_, err = sess.Retrieve()
	test.That(t, errors.Is(err, ErrStreamEnded), test.ShouldBeTrue)

	// terminal state is latched; no further hardware round trips happen
	svc.Context().PollErrs = map[mpp.Port]error{mpp.PortOutput: errors.New("unreachable")}
	_, err = sess.Retrieve()
	test.That(t, errors.Is(err, ErrStreamEnded), test.ShouldBeTrue)
}

func TestUnexpectedEOSPacket(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Context().PushPacket(mpptest.NewEOSPacket())
	_, err = sess.Retrieve()
	test.That(t, errors.Is(err, ErrProtocol), test.ShouldBeTrue)
}

func TestPacketOwnership(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)

	pkt1, err := sess.EncodeOne(nv12Frame(1))
	test.That(t, err, test.ShouldBeNil)
	pkt2, err := sess.EncodeOne(nv12Frame(2))
	test.That(t, err, test.ShouldBeNil)

	// outstanding packets keep the hardware context alive past close
	test.That(t, sess.Close(), test.ShouldBeNil)
	test.That(t, svc.Context().DestroyCount, test.ShouldEqual, 0)

	pkt1.Release()
	test.That(t, svc.Context().DestroyCount, test.ShouldEqual, 0)

	pkt2.Release()
	test.That(t, svc.Context().ResetCount, test.ShouldEqual, 1)
	test.That(t, svc.Context().DestroyCount, test.ShouldEqual, 1)

	// releasing and closing again must not double release
	pkt2.Release()
	test.That(t, sess.Close(), test.ShouldBeNil)
	test.That(t, svc.Context().DestroyCount, test.ShouldEqual, 1)
}

func TestImportFailureLeavesSessionUsable(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Alloc().ImportErr = errors.New("cannot map descriptor")
	_, err = sess.EncodeOne(nv12Frame(1))
	test.That(t, errors.Is(err, ErrImportFailed), test.ShouldBeTrue)
	test.That(t, svc.Context().Frames, test.ShouldHaveLength, 0)

	svc.Alloc().ImportErr = nil
	pkt, err := sess.EncodeOne(nv12Frame(2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldNotBeNil)
	pkt.Release()
	test.That(t, svc.Alloc().Active(), test.ShouldEqual, 0)
}

func TestHardwareBusy(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Context().PollErrs = map[mpp.Port]error{mpp.PortInput: errors.New("timed out")}
	_, err = sess.EncodeOne(nv12Frame(1))
	test.That(t, errors.Is(err, ErrHardwareBusy), test.ShouldBeTrue)
	test.That(t, svc.Alloc().Active(), test.ShouldEqual, 0)

	svc.Context().PollErrs = nil
	_, err = sess.Retrieve()
	// nothing queued; the bounded output poll times out
	test.That(t, errors.Is(err, ErrHardwareBusy), test.ShouldBeTrue)
}

func TestProtocolViolation(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Context().DequeueNil = map[mpp.Port]bool{mpp.PortInput: true}
	_, err = sess.EncodeOne(nv12Frame(1))
	test.That(t, errors.Is(err, ErrProtocol), test.ShouldBeTrue)
	test.That(t, svc.Alloc().Active(), test.ShouldEqual, 0)

	svc.Context().DequeueNil = map[mpp.Port]bool{mpp.PortOutput: true}
	svc.Context().PushPacket(mpptest.NewPacket([]byte("a"), 1, 1, 0))
	_, err = sess.Retrieve()
	test.That(t, errors.Is(err, ErrProtocol), test.ShouldBeTrue)
}

func TestEnqueueRejected(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Context().EnqueueErrs = map[mpp.Port]error{mpp.PortInput: errors.New("queue full")}
	_, err = sess.EncodeOne(nv12Frame(1))
	test.That(t, errors.Is(err, ErrHardwareRejected), test.ShouldBeTrue)
	test.That(t, svc.Alloc().Active(), test.ShouldEqual, 0)
}

func TestEncodeAfterClose(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	sess, err := NewSession(svc, testConfig(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess.Close(), test.ShouldBeNil)

	_, err = sess.EncodeOne(nv12Frame(1))
	test.That(t, errors.Is(err, ErrSessionClosed), test.ShouldBeTrue)
	_, err = sess.Retrieve()
	test.That(t, errors.Is(err, ErrSessionClosed), test.ShouldBeTrue)
}

func TestNoPacketThisCall(t *testing.T) {
	svc := mpptest.NewService(testHeader)
	config := testConfig(t)
	config.OutputTimeout = 10 * time.Millisecond
	sess, err := NewSession(svc, config)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, sess.Close(), test.ShouldBeNil)
	}()

	svc.Context().HoldPackets = true
	pkt, err := sess.EncodeOne(nv12Frame(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldBeNil)

	svc.Context().HoldPackets = false
	pkt, err = sess.Retrieve()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pkt, test.ShouldNotBeNil)
	test.That(t, pkt.Data, test.ShouldResemble, []byte("nal-1"))
	pkt.Release()
}
