package media

// Frame is a single decoded RGB image pulled from the frame-tap branch of
// the pipeline. Immutable after capture: callers must not retain the
// backing array past the sampling interval.
type Frame struct {
	Width  int
	Height int
	RGB    []byte
}

// AccessUnit is a single encoded H.264 access unit emitted by the encode
// branch: one or more raw NAL units (no Annex-B start codes, no AVC length
// prefixes — just the NAL payload bytes) sharing one presentation timestamp.
type AccessUnit struct {
	NALUs     [][]byte
	Timestamp uint32 // 90kHz RTP clock units
	Keyframe  bool
}

// VideoSource is the camera-capture collaborator: it offers raw RGB frames
// for the appsink/frame-tap branch. Implementations are platform-specific
// and out of scope for this module (spec Non-goals: the model/preprocessor
// and the encoder are external collaborators; the capture device is too).
type VideoSource interface {
	// Frames returns a channel of captured frames. The channel is closed
	// when the source is exhausted or ctx is cancelled.
	Frames() <-chan Frame
}

// Encoder is the H.264 production collaborator: it offers encoded access
// units for the rtp_pay/splitmuxsink branch. Implementing a real H.264
// encoder is explicitly out of scope (spec §1 Non-goals).
type Encoder interface {
	AccessUnits() <-chan AccessUnit
}
