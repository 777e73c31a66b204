package mppenc

import (
	"github.com/pion/mediadevices/pkg/frame"
	"golang.org/x/sys/unix"
)

// A Plane locates one pixel plane within a frame's backing memory.
type Plane struct {
	// Offset is the plane's byte offset into the backing object.
	Offset int64
	// Pitch is the plane's row stride in bytes.
	Pitch int
}

// A Frame is one raw video frame backed by externally-allocated DMA memory.
// The session never copies plane data; the backing object is imported into
// the device by descriptor only. The caller keeps ownership of FD.
type Frame struct {
	PTS    int64
	DTS    int64
	Width  int
	Height int
	Format frame.Format

	// FD is the dma-buf file descriptor backing all planes and Size its
	// total byte size.
	FD   int
	Size int

	Planes []Plane
}

// Dup returns a copy of the frame backed by a duplicated descriptor so the
// copy can outlive the source's own buffer recycling. The copy must be
// closed with CloseFD.
func (f *Frame) Dup() (*Frame, error) {
	fd, err := unix.Dup(f.FD)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	dup := *f
	dup.FD = fd
	dup.Planes = append([]Plane(nil), f.Planes...)
	return &dup, nil
}

// CloseFD closes the frame's backing descriptor. Only for frames whose
// descriptor was duplicated with Dup.
func (f *Frame) CloseFD() error {
	return unix.Close(f.FD)
}
