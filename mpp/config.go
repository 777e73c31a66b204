package mpp

// CodingType identifies a hardware coding standard.
type CodingType int

const (
	CodingUnused CodingType = iota
	CodingAVC
	CodingMJPEG
)

func (c CodingType) String() string {
	switch c {
	case CodingAVC:
		return "avc"
	case CodingMJPEG:
		return "mjpeg"
	default:
		return "unused"
	}
}

// Rotation is the pre-processing rotation applied to input frames.
type Rotation int

// Rotation0 leaves frames unrotated.
const Rotation0 Rotation = 0

// RCMode selects the rate control policy.
type RCMode int

const (
	// RCModeCBR holds the bitrate within a narrow band around the target.
	RCModeCBR RCMode = iota
	// RCModeVBR allows the bitrate to vary widely below the target.
	RCModeVBR
)

// RCQuality tunes rate control within a mode.
type RCQuality int

const (
	RCQualityMedium RCQuality = iota
	// RCQualityCQP fixes the quantizer; bitrate fields are unset in this mode.
	RCQualityCQP
)

// BitrateUnset disables a bitrate bound (constant quantizer mode).
const BitrateUnset = -1

// SEIMode controls how often supplemental enhancement information is emitted.
type SEIMode int

// SEIModeOneFrame emits SEI once per frame.
const SEIModeOneFrame SEIMode = 1

// PrepConfig is the picture geometry and format block.
type PrepConfig struct {
	Width     int
	Height    int
	HorStride int
	VerStride int
	Format    FrameFormat
	Rotation  Rotation
}

// RCConfig is the rate control block.
type RCConfig struct {
	Mode    RCMode
	Quality RCQuality

	// Bitrate bounds in bits per second, or BitrateUnset in constant
	// quantizer mode. Always BPSMin <= BPSTarget <= BPSMax when set.
	BPSTarget int
	BPSMax    int
	BPSMin    int

	FPSInNum  int
	FPSInDen  int
	FPSOutNum int
	FPSOutDen int

	GOP       int
	SkipCount int
}

// CodecConfig is the codec-specific block. Only the field for the active
// coding type is meaningful.
type CodecConfig struct {
	Coding CodingType
	H264   H264Config
}

// H264Config carries the H.264 parameters the hardware understands.
type H264Config struct {
	Profile           int
	Level             int
	EntropyCodingMode int
	CabacInitIDC      int
	Transform8x8Mode  int

	// Quantizer bounds. Always QPMin <= QPInit <= QPMax when QPInit is set;
	// a zero QPInit leaves the initial quantizer to the device.
	QPMin     int
	QPMax     int
	QPMaxStep int
	QPInit    int
}
