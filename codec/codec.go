// Package codec defines the registry of hardware codec bindings. A binding
// maps a coding type to the function that derives the device's rate control
// and codec-specific configuration blocks, plus information about the codec
// itself. Concrete codecs register themselves in their init (see codec/h264).
package codec

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/edaniels/mppenc/mpp"
)

// DefaultKeyFrameInterval is the default GOP length chosen in order to
// produce high enough quality results at a low latency.
const DefaultKeyFrameInterval = 30

// StreamParams are the requested stream parameters a binding derives device
// configuration from.
type StreamParams struct {
	Width     int
	Height    int
	FrameRate float32

	BitRate int
	GOP     int

	RCMode    mpp.RCMode
	RCQuality mpp.RCQuality

	// Codec-specific requests. Zero values mean unspecified.
	Profile int
	Level   int
}

// A ConfigureFunc derives the rate control and codec-specific configuration
// blocks for one coding type. It must not commit anything to the device.
type ConfigureFunc func(params StreamParams, logger golog.Logger) (mpp.RCConfig, mpp.CodecConfig, error)

// An Entry binds a coding type to its configuration mapping.
type Entry struct {
	Coding    mpp.CodingType
	MIMEType  string
	Configure ConfigureFunc
}

var (
	registryMu sync.Mutex
	registry   = map[mpp.CodingType]Entry{}
)

// Register adds a codec binding. It is expected to be called from a codec
// package's init.
func Register(entry Entry) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[entry.Coding] = entry
}

// Lookup returns the binding for the given coding type, if any.
func Lookup(coding mpp.CodingType) (Entry, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	entry, ok := registry[coding]
	return entry, ok
}
