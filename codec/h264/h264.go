// Package h264 binds the H.264 coding type to its hardware configuration
// mapping. Importing the package registers the binding.
package h264

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/edaniels/mppenc/codec"
	"github.com/edaniels/mppenc/mpp"
)

// H.264 profile_idc values the hardware supports.
const (
	ProfileBaseline = 66
	ProfileMain     = 77
	ProfileHigh     = 100
)

// LevelUnknown requests the default level.
const LevelUnknown = 0

// level_idc 51 covers up to 4K@30fps, the hardware's ceiling.
const defaultLevel = 51

const defaultQPInit = 26

func init() {
	codec.Register(codec.Entry{
		Coding:    mpp.CodingAVC,
		MIMEType:  "video/H264",
		Configure: configure,
	})
}

func configure(params codec.StreamParams, logger golog.Logger) (mpp.RCConfig, mpp.CodecConfig, error) {
	rc, err := rcConfig(params)
	if err != nil {
		return mpp.RCConfig{}, mpp.CodecConfig{}, err
	}
	return rc, codecConfig(params, rc, logger), nil
}

func rcConfig(params codec.StreamParams) (mpp.RCConfig, error) {
	rc := mpp.RCConfig{
		Mode:    params.RCMode,
		Quality: params.RCQuality,
	}

	switch {
	case rc.Mode == mpp.RCModeCBR:
		// constant bitrate has a very small bps range of 1/16 bps
		rc.BPSTarget = params.BitRate
		rc.BPSMax = params.BitRate * 17 / 16
		rc.BPSMin = params.BitRate * 15 / 16
	case rc.Mode == mpp.RCModeVBR && rc.Quality == mpp.RCQualityCQP:
		// constant QP does not have bps
		rc.BPSTarget = mpp.BitrateUnset
		rc.BPSMax = mpp.BitrateUnset
		rc.BPSMin = mpp.BitrateUnset
	case rc.Mode == mpp.RCModeVBR:
		// variable bitrate has a large bps range
		rc.BPSTarget = params.BitRate
		rc.BPSMax = params.BitRate * 17 / 16
		rc.BPSMin = params.BitRate * 1 / 16
	default:
		return mpp.RCConfig{}, errors.Errorf("unknown rate control mode %d", rc.Mode)
	}

	// fix input / output frame rate
	fps := int(params.FrameRate)
	rc.FPSInNum = fps
	rc.FPSInDen = 1
	rc.FPSOutNum = fps
	rc.FPSOutDen = 1

	rc.GOP = params.GOP
	rc.SkipCount = 0

	return rc, nil
}

func codecConfig(params codec.StreamParams, rc mpp.RCConfig, logger golog.Logger) mpp.CodecConfig {
	profile := params.Profile
	if profile != ProfileBaseline && profile != ProfileMain && profile != ProfileHigh {
		logger.Warnw("unsupported profile; forcing high", "requested", profile, "forced", ProfileHigh)
		profile = ProfileHigh
	}

	level := params.Level
	if level == LevelUnknown {
		logger.Infow("unspecified level; forcing default", "forced", defaultLevel)
		level = defaultLevel
	}

	cfg := mpp.H264Config{
		Profile:          profile,
		Level:            level,
		CabacInitIDC:     0,
		Transform8x8Mode: 1,
	}
	if profile == ProfileHigh {
		cfg.EntropyCodingMode = 1
	}

	// quantizer bounds follow from the rate control mode, not the caller
	switch {
	case rc.Mode == mpp.RCModeCBR:
		// constant bitrate does not limit the qp range
		cfg.QPMin = 4
		cfg.QPMax = 48
		cfg.QPMaxStep = 16
	case rc.Mode == mpp.RCModeVBR && rc.Quality == mpp.RCQualityCQP:
		// constant QP mode fixes the quantizer
		cfg.QPMin = defaultQPInit
		cfg.QPMax = defaultQPInit
		cfg.QPInit = defaultQPInit
	case rc.Mode == mpp.RCModeVBR:
		// variable bitrate has a qp min limit
		cfg.QPMin = 12
		cfg.QPMax = 40
		cfg.QPMaxStep = 8
	}

	return mpp.CodecConfig{Coding: mpp.CodingAVC, H264: cfg}
}
