package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// FrameSeconds is the audio-clock advance of one rendered frame.
const FrameSeconds = float64(FrameSize) / SampleRate

// Buffer is a decoded, read-only sample buffer. Samples are float32 in
// [-1, 1], one slice per channel, at the buffer's own sample rate.
type Buffer struct {
	Data       [][]float32
	SampleRate int
}

// NewBuffer allocates a silent buffer of the given shape.
func NewBuffer(channels, frames, sampleRate int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{Data: data, SampleRate: sampleRate}
}

// Frames returns the per-channel sample count.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// At returns the sample of channel ch at position pos (seconds), linearly
// interpolated. Mono buffers feed every output channel.
func (b *Buffer) At(ch int, pos float64) float32 {
	n := b.Frames()
	if n == 0 || pos < 0 {
		return 0
	}
	if ch >= len(b.Data) {
		ch = len(b.Data) - 1
	}
	x := pos * float64(b.SampleRate)
	i := int(x)
	if i >= n {
		return 0
	}
	s0 := b.Data[ch][i]
	if i+1 >= n {
		return s0
	}
	frac := float32(x - float64(i))
	return s0 + (b.Data[ch][i+1]-s0)*frac
}
