package mppenc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCodec means no codec binding is registered for the
	// requested coding type.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrUnsupportedFormat means the pixel format cannot be ingested by
	// the device.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")

	// ErrImportFailed means the device's memory manager rejected the
	// dma-buf descriptor.
	ErrImportFailed = errors.New("buffer import rejected")

	// ErrHardwareBusy means a port poll timed out. It is recoverable; the
	// caller should retry the operation.
	ErrHardwareBusy = errors.New("hardware busy")

	// ErrHardwareRejected means the device refused an enqueued task.
	ErrHardwareRejected = errors.New("hardware rejected task")

	// ErrProtocol means the device broke the task protocol (a dequeue
	// yielded no task after a successful poll, or an end-of-stream packet
	// arrived before end-of-stream was requested). The session cannot be
	// used further.
	ErrProtocol = errors.New("hardware protocol violation")

	// ErrStreamEnded signals that end-of-stream was requested and the
	// device has acknowledged it; no further packets will be produced.
	ErrStreamEnded = errors.New("stream ended")

	// ErrSessionClosed means the session was already closed.
	ErrSessionClosed = errors.New("session closed")
)

// A ConfigError reports which configuration stage the device rejected.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("failed to commit %s config: %s", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
