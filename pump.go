package mppenc

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/edaniels/mppenc/mpp"
)

// pumpFrame converts the logical frame into a device frame descriptor,
// imports its backing buffer, and drives the descriptor through the input
// port's poll/dequeue/attach/enqueue round. A nil frame submits the
// end-of-stream sentinel.
//
// The imported buffer handle is released on every exit path; the device
// retains the underlying memory through its own reference once the task is
// enqueued.
func (s *Session) pumpFrame(f *Frame) error {
	desc := &mpp.FrameDesc{EOS: s.eosReached}

	var buf mpp.Buffer
	if f != nil {
		devFormat, ok := mpp.DeviceFormat(f.Format)
		if !ok {
			return errors.Wrapf(ErrUnsupportedFormat, "%q", f.Format)
		}
		if len(f.Planes) == 0 {
			return errors.New("frame has no planes")
		}

		desc.PTS = f.PTS
		desc.DTS = f.DTS
		desc.Width = f.Width
		desc.Height = f.Height
		desc.Format = devFormat

		pitch := f.Planes[0].Pitch
		if devFormat.Packed422() {
			// packed 4:2:2 carries two samples per pixel on one plane
			desc.HorStride = 2 * pitch
		} else {
			desc.HorStride = pitch
		}
		if len(f.Planes) > 1 {
			desc.VerStride = int(f.Planes[1].Offset) / pitch
		} else {
			desc.VerStride = f.Height
		}

		var err error
		buf, err = s.alloc.Import(f.FD, f.Size)
		if err != nil {
			return errors.Wrapf(ErrImportFailed, "fd %d: %s", f.FD, err)
		}
		desc.Buffer = buf
	}

	release := func(err error) error {
		if buf == nil {
			return err
		}
		return multierr.Combine(err, buf.Release())
	}

	if err := s.ctx.Poll(mpp.PortInput); err != nil {
		return release(errors.Wrapf(ErrHardwareBusy, "failed to poll task input: %s", err))
	}
	task, err := s.ctx.Dequeue(mpp.PortInput)
	if err != nil || task == nil {
		return release(errors.Wrapf(ErrProtocol, "failed to dequeue task input (err = %v)", err))
	}

	task.SetFrame(mpp.KeyInputFrame, desc)
	if err := s.ctx.Enqueue(mpp.PortInput, task); err != nil {
		return release(errors.Wrapf(ErrHardwareRejected, "failed to enqueue task input: %s", err))
	}

	return release(nil)
}
