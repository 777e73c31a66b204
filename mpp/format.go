package mpp

import "github.com/pion/mediadevices/pkg/frame"

// FrameFormat is a device pixel format.
type FrameFormat int

const (
	FormatYUV420SP FrameFormat = iota
	FormatYUV420P
	FormatYUV422YUYV
	FormatYUV422UYVY
	FormatYUV420SP10Bit
)

func (f FrameFormat) String() string {
	switch f {
	case FormatYUV420SP:
		return "yuv420sp"
	case FormatYUV420P:
		return "yuv420p"
	case FormatYUV422YUYV:
		return "yuv422-yuyv"
	case FormatYUV422UYVY:
		return "yuv422-uyvy"
	case FormatYUV420SP10Bit:
		return "yuv420sp-10bit"
	default:
		return "unknown"
	}
}

// Packed422 reports whether the format interleaves luma and chroma into a
// single plane of 4:2:2 samples. Such layouts double the horizontal stride.
func (f FrameFormat) Packed422() bool {
	return f == FormatYUV422YUYV || f == FormatYUV422UYVY
}

// DeviceFormat maps a logical pixel format tag onto the device's enumeration.
// The second return is false for formats the device cannot ingest.
func DeviceFormat(f frame.Format) (FrameFormat, bool) {
	switch f {
	case frame.FormatNV12:
		return FormatYUV420SP, true
	case frame.FormatI420:
		return FormatYUV420P, true
	case frame.FormatYUY2:
		return FormatYUV422YUYV, true
	case frame.FormatUYVY:
		return FormatYUV422UYVY, true
	default:
		return 0, false
	}
}
