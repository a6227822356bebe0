// ABOUTME: PCM sample format, channel layout and format triple
// ABOUTME: Defines the uniform PCM representation all decoders produce
package pcm

import "fmt"

// SampleFormat identifies the in-memory sample encoding. Multi-byte
// formats are little-endian; this is an internal ABI, never persisted.
type SampleFormat int

const (
	S8 SampleFormat = iota
	U8
	S16
	S24 // stored in a 32-bit container
	F32
)

// BytesPerSample returns the container width of one sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case S8, U8:
		return 1
	case S16:
		return 2
	case S24, F32:
		return 4
	}
	return 0
}

// EffectiveBits returns the number of significant bits in one sample.
func (f SampleFormat) EffectiveBits() int {
	switch f {
	case S8, U8:
		return 8
	case S16:
		return 16
	case S24:
		return 24
	case F32:
		return 32
	}
	return 0
}

func (f SampleFormat) String() string {
	switch f {
	case S8:
		return "s8"
	case U8:
		return "u8"
	case S16:
		return "s16"
	case S24:
		return "s24"
	case F32:
		return "f32"
	}
	return "unknown"
}

// ParseSampleFormat maps a configuration string to a sample format.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "s8":
		return S8, nil
	case "u8":
		return U8, nil
	case "s16":
		return S16, nil
	case "s24":
		return S24, nil
	case "f32":
		return F32, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// ChannelLayout identifies the channel configuration.
type ChannelLayout int

const (
	Mono ChannelLayout = iota
	Stereo
)

// Count returns the number of channels in the layout.
func (c ChannelLayout) Count() int {
	if c == Stereo {
		return 2
	}
	return 1
}

func (c ChannelLayout) String() string {
	if c == Stereo {
		return "stereo"
	}
	return "mono"
}

// ParseChannelLayout maps a configuration string to a channel layout.
func ParseChannelLayout(s string) (ChannelLayout, error) {
	switch s {
	case "mono":
		return Mono, nil
	case "stereo":
		return Stereo, nil
	}
	return 0, fmt.Errorf("unknown channel layout %q", s)
}

// Format is the uniform PCM representation carried between the decoder
// stage and the encoders.
type Format struct {
	Sample   SampleFormat
	Rate     int
	Channels ChannelLayout
}

// BytesPerFrame returns the byte size of one frame (one sample per
// channel).
func (f Format) BytesPerFrame() int {
	return f.Sample.BytesPerSample() * f.Channels.Count()
}

// DurationToFrames converts a duration in seconds to a whole frame
// count.
func (f Format) DurationToFrames(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(seconds * float64(f.Rate))
}

// FramesToDuration converts a frame count to seconds.
func (f Format) FramesToDuration(frames int) float64 {
	return float64(frames) / float64(f.Rate)
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%d/%s", f.Sample, f.Rate, f.Channels)
}
