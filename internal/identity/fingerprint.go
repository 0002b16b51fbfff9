package identity

import (
	"context"
	"encoding/json"
	"fmt"
)

// Signals are the raw device traits reported by the host
type Signals struct {
	ScreenWidth  int
	ScreenHeight int
	Timezone     string
	Language     string
	Platform     string
	ColorDepth   int
	// CanvasData is the data URL of a rendered test canvas
	CanvasData string
	// WebGLVendor is empty when WebGL is unavailable
	WebGLVendor string
}

// SignalSource collects fingerprint inputs. An error means collection
// failed and the sentinel fingerprint is used instead.
type SignalSource interface {
	FingerprintSignals(ctx context.Context) (Signals, error)
}

// Fingerprint is the privacy-safe device fingerprint
type Fingerprint struct {
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	ColorDepth       int    `json:"color_depth"`
	CanvasHash       string `json:"canvas_hash"`
	WebGLVendor      string `json:"webgl_vendor"`
}

// canvasTail is how much of the canvas data URL feeds the hash
const canvasTail = 100

// NewFingerprint hashes the canvas and WebGL inputs of s
func NewFingerprint(s Signals) Fingerprint {
	canvas := s.CanvasData
	if len(canvas) > canvasTail {
		canvas = canvas[len(canvas)-canvasTail:]
	}

	vendor := s.WebGLVendor
	if vendor == "" {
		vendor = "unavailable"
	}

	return Fingerprint{
		ScreenResolution: fmt.Sprintf("%dx%d", s.ScreenWidth, s.ScreenHeight),
		Timezone:         s.Timezone,
		Language:         s.Language,
		Platform:         s.Platform,
		ColorDepth:       s.ColorDepth,
		CanvasHash:       Hash(canvas),
		WebGLVendor:      Hash(vendor),
	}
}

// FallbackFingerprint is used when signal collection fails. Language and
// platform stay available in that case.
func FallbackFingerprint(language, platform string) Fingerprint {
	return Fingerprint{
		ScreenResolution: "unknown",
		Timezone:         "unknown",
		Language:         language,
		Platform:         platform,
		ColorDepth:       0,
		CanvasHash:       "error",
		WebGLVendor:      "error",
	}
}

// CollectFingerprint never fails: a source error produces the fallback
func CollectFingerprint(ctx context.Context, src SignalSource, language, platform string) (Fingerprint, error) {
	if src == nil {
		return FallbackFingerprint(language, platform), nil
	}
	s, err := src.FingerprintSignals(ctx)
	if err != nil {
		return FallbackFingerprint(language, platform), err
	}
	return NewFingerprint(s), nil
}

// JSON is the canonical serialisation hashed into the visitor id
func (f Fingerprint) JSON() string {
	b, _ := json.Marshal(f)
	return string(b)
}
