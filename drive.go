package mppenc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// A FrameSource supplies raw frames to encode. Next returns a nil frame to
// mark end-of-stream. The release function, if any, is called once the
// frame's submission is complete.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, func(), error)
}

// busyRetryInterval spaces out retries after a bounded poll already timed out.
const busyRetryInterval = 5 * time.Millisecond

// EncodeStream pumps the source through the session into the sink until the
// source ends and the device acknowledges end-of-stream, or the context is
// cancelled. Busy signals from the ports are retried.
func EncodeStream(ctx context.Context, source FrameSource, session *Session, sink PacketSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame, release, err := source.Next(ctx)
		if err != nil {
			return err
		}
		pkt, err := encodeOneRetry(ctx, session, frame)
		if release != nil {
			release()
		}
		if err != nil {
			if frame == nil && errors.Is(err, ErrStreamEnded) {
				return nil
			}
			return err
		}
		if pkt != nil {
			if err := sink.Consume(pkt); err != nil {
				return err
			}
		}
		if frame == nil {
			break
		}
	}

	// EOS submitted; drain until the device signals completion
	for {
		pkt, err := session.Retrieve()
		switch {
		case errors.Is(err, ErrStreamEnded):
			return nil
		case errors.Is(err, ErrHardwareBusy):
			if !utils.SelectContextOrWait(ctx, busyRetryInterval) {
				return ctx.Err()
			}
			continue
		case err != nil:
			return err
		case pkt == nil:
			if !utils.SelectContextOrWait(ctx, busyRetryInterval) {
				return ctx.Err()
			}
			continue
		}
		if err := sink.Consume(pkt); err != nil {
			return err
		}
	}
}

func encodeOneRetry(ctx context.Context, session *Session, frame *Frame) (*Packet, error) {
	for {
		pkt, err := session.EncodeOne(frame)
		if !errors.Is(err, ErrHardwareBusy) {
			return pkt, err
		}
		if !utils.SelectContextOrWait(ctx, busyRetryInterval) {
			return nil, ctx.Err()
		}
	}
}
