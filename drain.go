package mppenc

import (
	"github.com/pkg/errors"

	"github.com/edaniels/mppenc/mpp"
)

// drainPacket drives one poll/dequeue/detach/enqueue round on the output
// port. It returns (nil, nil) when the dequeued task carried no packet yet.
// The task slot is reusable device state, not the packet, so it is
// re-enqueued immediately after the packet is detached.
func (s *Session) drainPacket() (*Packet, error) {
	if s.drained {
		return nil, ErrStreamEnded
	}

	if err := s.ctx.Poll(mpp.PortOutput); err != nil {
		return nil, errors.Wrapf(ErrHardwareBusy, "failed to poll task output: %s", err)
	}
	task, err := s.ctx.Dequeue(mpp.PortOutput)
	if err != nil || task == nil {
		return nil, errors.Wrapf(ErrProtocol, "failed to dequeue task output (err = %v)", err)
	}

	devPkt := task.Packet(mpp.KeyOutputPacket)
	if err := s.ctx.Enqueue(mpp.PortOutput, task); err != nil {
		if devPkt != nil {
			err = releasePacket(devPkt, err)
		}
		return nil, errors.Wrapf(ErrHardwareRejected, "failed to enqueue task output: %s", err)
	}

	if devPkt == nil {
		return nil, nil
	}

	if devPkt.EOS() {
		s.logger.Debugw("received an EOS packet", "name", s.name)
		if err := devPkt.Release(); err != nil {
			s.logger.Warnw("failed to release EOS packet", "name", s.name, "error", err)
		}
		if !s.eosReached {
			return nil, errors.Wrap(ErrProtocol, "EOS packet before EOS was requested")
		}
		s.drained = true
		return nil, ErrStreamEnded
	}

	pts, dts := devPkt.PTS(), devPkt.DTS()
	if pts <= 0 {
		pts = dts
	}
	if dts <= 0 {
		dts = pts
	}

	s.addRef()
	return &Packet{
		Data:     devPkt.Data(),
		PTS:      pts,
		DTS:      dts,
		KeyFrame: devPkt.Flags()&mpp.PacketFlagIntra != 0,
		dev:      devPkt,
		session:  s,
	}, nil
}

func releasePacket(pkt mpp.Packet, err error) error {
	if relErr := pkt.Release(); relErr != nil {
		return errors.Wrapf(err, "also failed to release packet: %s", relErr)
	}
	return err
}
