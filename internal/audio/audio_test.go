package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
	if math.Abs(FrameSeconds-0.02) > 1e-12 {
		t.Errorf("FrameSeconds = %v, want 0.02", FrameSeconds)
	}
}

// --- Buffer ---

func constBuffer(v float32, frames int) *Buffer {
	b := NewBuffer(2, frames, SampleRate)
	for ch := range b.Data {
		for i := range b.Data[ch] {
			b.Data[ch][i] = v
		}
	}
	return b
}

func TestBufferDuration(t *testing.T) {
	b := NewBuffer(2, 96000, SampleRate)
	if b.Duration() != 2 {
		t.Errorf("Duration() = %v, want 2", b.Duration())
	}
	var nilBuf *Buffer
	if nilBuf.Duration() != 0 || nilBuf.Frames() != 0 {
		t.Error("nil buffer should report zero length")
	}
}

func TestBufferAtInterpolatesAndFeedsMono(t *testing.T) {
	b := NewBuffer(1, 3, 10) // 10 Hz keeps the positions exact
	b.Data[0][0], b.Data[0][1], b.Data[0][2] = 0, 1, 0

	tests := []struct {
		ch   int
		pos  float64
		want float32
	}{
		{0, 0, 0},
		{0, 0.05, 0.5},
		{0, 0.1, 1},
		{1, 0.1, 1}, // mono feeds channel 1
		{0, 0.3, 0}, // past the end
		{0, -1, 0},
	}
	for _, tt := range tests {
		if got := b.At(tt.ch, tt.pos); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("At(%d, %v) = %v, want %v", tt.ch, tt.pos, got, tt.want)
		}
	}
}

// --- Envelope ---

func TestEnvelopeStepAndRamp(t *testing.T) {
	e := NewEnvelope(0.5)
	e.SetValueAtTime(0, 10)
	e.LinearRampToValueAtTime(1, 12)

	tests := []struct {
		at   float64
		want float64
	}{
		{5, 0.5},
		{10, 0},
		{11, 0.5},
		{12, 1},
		{20, 1},
	}
	for _, tt := range tests {
		if got := e.ValueAt(tt.at); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ValueAt(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestEnvelopeFadeOut(t *testing.T) {
	e := NewEnvelope(0.8)
	e.SetValueAtTime(0.8, 5)
	e.LinearRampToValueAtTime(0, 10)
	if got := e.ValueAt(7.5); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("ValueAt(7.5) = %v, want 0.4", got)
	}
	if got := e.ValueAt(11); got != 0 {
		t.Errorf("ValueAt(11) = %v, want 0", got)
	}
}

func TestEnvelopeRampWithoutAnchorHolds(t *testing.T) {
	e := NewEnvelope(1)
	e.LinearRampToValueAtTime(0, 4)
	if got := e.ValueAt(2); got != 1 {
		t.Errorf("ValueAt(2) = %v, want 1 until the ramp time", got)
	}
	if got := e.ValueAt(4); got != 0 {
		t.Errorf("ValueAt(4) = %v, want 0", got)
	}
}

func TestEnvelopeCancelAndSetValue(t *testing.T) {
	e := NewEnvelope(1)
	e.SetValueAtTime(0, 10)
	e.LinearRampToValueAtTime(1, 12)
	e.CancelScheduledValues(11)
	if n := len(e.Events()); n != 1 {
		t.Fatalf("events after cancel = %d, want 1", n)
	}
	if got := e.ValueAt(20); got != 0 {
		t.Errorf("ValueAt(20) = %v, want 0", got)
	}

	e.SetValue(0.3)
	if len(e.Events()) != 0 || e.ValueAt(50) != 0.3 {
		t.Error("SetValue should drop automation")
	}
}

func TestEnvelopePruneKeepsRampAnchor(t *testing.T) {
	e := NewEnvelope(0)
	e.SetValueAtTime(1, 1)
	e.SetValueAtTime(2, 2)
	e.LinearRampToValueAtTime(3, 4)
	before := e.ValueAt(3)

	e.Prune(3)
	if n := len(e.Events()); n != 2 {
		t.Errorf("events after prune = %d, want 2", n)
	}
	if got := e.ValueAt(3); got != before {
		t.Errorf("ValueAt(3) changed by prune: %v -> %v", before, got)
	}
}

// --- Mixer ---

func near(got int16, want float64, tol float64) bool {
	return math.Abs(float64(got)-want) <= tol
}

func TestMixerVoiceWindow(t *testing.T) {
	m := NewMixer(nil)
	v, err := m.NewVoice(constBuffer(0.5, SampleRate))
	if err != nil {
		t.Fatalf("NewVoice: %v", err)
	}
	if err := v.Start(0, 0, 0.01); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := m.RenderFrames(1)
	if !near(out[100*Channels], 0.5*32767, 1) {
		t.Errorf("sample inside window = %d, want ~16383", out[100*Channels])
	}
	if out[600*Channels] != 0 {
		t.Errorf("sample past duration = %d, want 0", out[600*Channels])
	}
	if m.VoiceCount() != 0 {
		t.Errorf("finished voice not dropped, count = %d", m.VoiceCount())
	}
	if math.Abs(m.Now()-FrameSeconds) > 1e-12 {
		t.Errorf("Now() = %v, want one frame", m.Now())
	}
}

func TestMixerFutureStart(t *testing.T) {
	m := NewMixer(nil)
	v, _ := m.NewVoice(constBuffer(0.25, SampleRate))
	v.Start(0.03, 0, -1)

	first := m.RenderFrames(1)
	for i, s := range first {
		if s != 0 {
			t.Fatalf("sample %d = %d before start time", i, s)
		}
	}
	second := m.RenderFrames(1)
	if second[100*Channels] != 0 {
		t.Error("sample at 22ms should still be silent")
	}
	if !near(second[800*Channels], 0.25*32767, 1) {
		t.Errorf("sample at ~36ms = %d, want ~8191", second[800*Channels])
	}
}

func TestMixerLoopWraps(t *testing.T) {
	b := NewBuffer(2, 100, SampleRate)
	for ch := range b.Data {
		for i := range b.Data[ch] {
			b.Data[ch][i] = float32(i) / 100
		}
	}
	m := NewMixer(nil)
	v, _ := m.NewVoice(b)
	v.SetLoop(true)
	v.Start(0, 0, -1)

	out := m.RenderFrames(1)
	// frame index 150 is buffer index 50 on the second pass
	if !near(out[150*Channels], 0.5*32767, 4) {
		t.Errorf("looped sample = %d, want ~16383", out[150*Channels])
	}
	if m.VoiceCount() != 1 {
		t.Error("looping voice without stop should stay live")
	}
}

func TestMixerNonLoopEndsWithBuffer(t *testing.T) {
	m := NewMixer(nil)
	v, _ := m.NewVoice(constBuffer(0.5, 100))
	v.Start(0, 0, -1)
	out := m.RenderFrames(1)
	if out[150*Channels] != 0 {
		t.Errorf("non-looping voice sounded past its buffer: %d", out[150*Channels])
	}
	if m.VoiceCount() != 0 {
		t.Error("exhausted voice not dropped")
	}
}

func TestMixerOffsetAndStop(t *testing.T) {
	b := NewBuffer(2, SampleRate, SampleRate)
	for ch := range b.Data {
		for i := range b.Data[ch] {
			b.Data[ch][i] = float32(i) / SampleRate
		}
	}
	m := NewMixer(nil)
	v, _ := m.NewVoice(b)
	v.Start(0, 0.5, -1)
	v.Stop(0.01)

	out := m.RenderFrames(1)
	if !near(out[0], 0.5*32767, 2) {
		t.Errorf("first sample = %d, want buffer value at 0.5s", out[0])
	}
	if out[700*Channels] != 0 {
		t.Error("voice sounded after stop")
	}
	if err := v.Stop(0); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestMixerStartTwice(t *testing.T) {
	m := NewMixer(nil)
	v, _ := m.NewVoice(constBuffer(0.1, 10))
	if err := v.Start(0, 0, -1); err != nil {
		t.Fatal(err)
	}
	if err := v.Start(0, 0, -1); !errors.Is(err, ErrVoiceStarted) {
		t.Errorf("second Start err = %v, want ErrVoiceStarted", err)
	}
}

func TestMixerGainAndDisconnect(t *testing.T) {
	m := NewMixer(nil)
	g := NewGraph(m, 0.5)
	v, _ := m.NewVoice(constBuffer(1, SampleRate))
	v.Gain().SetValue(0.5)
	v.Start(0, 0, -1)

	out := m.RenderFrames(1)
	if !near(out[10], 0.25*32767, 1) {
		t.Errorf("gain product = %d, want ~8191", out[10])
	}
	if g.MasterVolume() != 0.5 {
		t.Errorf("MasterVolume() = %v", g.MasterVolume())
	}

	v.Disconnect()
	out = m.RenderFrames(1)
	if out[10] != 0 || m.VoiceCount() != 0 {
		t.Error("disconnected voice still mixed")
	}
}

func TestMixerClipsToInt16(t *testing.T) {
	m := NewMixer(nil)
	for i := 0; i < 3; i++ {
		v, _ := m.NewVoice(constBuffer(0.9, SampleRate))
		v.Start(0, 0, -1)
	}
	out := m.RenderFrames(1)
	if out[0] != 32767 {
		t.Errorf("summed sample = %d, want clipped 32767", out[0])
	}
}

func TestMixerRunEmitsFramesAndFreezesClock(t *testing.T) {
	m := NewMixer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	<-m.Frames() // suspended: silence, clock still
	if m.Now() != 0 {
		t.Errorf("clock advanced while suspended: %v", m.Now())
	}

	if err := m.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50 && m.Now() == 0; i++ {
		if f := <-m.Frames(); len(f) != FrameSamples {
			t.Fatalf("frame len = %d", len(f))
		}
	}
	if m.Now() <= 0 {
		t.Error("clock did not advance while running")
	}

	cancel()
	for range m.Frames() {
	}
	<-done
}

func TestMixerClosed(t *testing.T) {
	m := NewMixer(nil)
	m.Close()
	if _, err := m.NewVoice(constBuffer(1, 10)); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("NewVoice after Close: %v", err)
	}
	if err := m.Resume(context.Background()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Resume after Close: %v", err)
	}
}

// --- Graph ---

func TestGraphClampsVolume(t *testing.T) {
	m := NewMixer(nil)
	g := NewGraph(m, 0.8)
	tests := []struct{ in, want float64 }{
		{-1, 0},
		{0.3, 0.3},
		{1.7, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		g.SetMasterVolume(tt.in)
		if got := m.Master().ValueAt(m.Now()); got != tt.want {
			t.Errorf("SetMasterVolume(%v): master = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGraphResumeIfSuspended(t *testing.T) {
	m := NewMixer(nil)
	g := NewGraph(m, 1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := g.ResumeIfSuspended(ctx); err != nil {
			t.Fatalf("ResumeIfSuspended #%d: %v", i+1, err)
		}
	}
	if m.State() != Running {
		t.Errorf("state = %v, want running", m.State())
	}

	m.Close()
	if err := g.ResumeIfSuspended(ctx); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("closed engine err = %v, want ErrEngineUnavailable", err)
	}
}

// --- Decoders ---

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]int16, FrameSamples)
	for i := range samples {
		samples[i] = int16(i * 10)
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, samples); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := NativeDecoder{}.Decode(context.Background(), "tone.wav", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Frames() != FrameSize || buf.SampleRate != SampleRate || len(buf.Data) != Channels {
		t.Fatalf("decoded shape: frames=%d rate=%d ch=%d", buf.Frames(), buf.SampleRate, len(buf.Data))
	}
	want := float32(samples[2*Channels+1]) / 32768
	if got := buf.Data[1][2]; math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("sample = %v, want %v", got, want)
	}
}

func TestNativeDecoderUnsupported(t *testing.T) {
	_, err := NativeDecoder{}.Decode(context.Background(), "x.flac", []byte("fLaC"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNativeDecoderFallback(t *testing.T) {
	want := NewBuffer(1, 1, 8000)
	fb := decoderFunc(func(ctx context.Context, name string, data []byte) (*Buffer, error) {
		return want, nil
	})
	got, err := NativeDecoder{Fallback: fb}.Decode(context.Background(), "x.ogg", nil)
	if err != nil || got != want {
		t.Errorf("fallback not used: %v %v", got, err)
	}
}

type decoderFunc func(ctx context.Context, name string, data []byte) (*Buffer, error)

func (f decoderFunc) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	return f(ctx, name, data)
}

// --- SamplesToBytes / round-trip ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

func TestBufferFromS16LE(t *testing.T) {
	b := bufferFromS16LE(SamplesToBytes([]int16{16384, -16384, 0, 32767}), 2, SampleRate)
	if b.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", b.Frames())
	}
	if b.Data[0][0] != 0.5 || b.Data[1][0] != -0.5 {
		t.Errorf("first frame = %v/%v, want 0.5/-0.5", b.Data[0][0], b.Data[1][0])
	}
}

func TestMeanVolumeDB(t *testing.T) {
	constant := func(v float32) *Buffer {
		b := NewBuffer(2, 4800, SampleRate)
		for ch := range b.Data {
			for i := range b.Data[ch] {
				b.Data[ch][i] = v
			}
		}
		return b
	}
	tests := []struct {
		name string
		buf  *Buffer
		want float64
	}{
		{"full scale", constant(1), 0},
		{"half", constant(0.5), 20 * math.Log10(0.5)},
		{"tenth", constant(-0.1), -20},
		{"silence", constant(0), SilenceDB},
		{"empty", NewBuffer(2, 0, SampleRate), SilenceDB},
	}
	for _, tt := range tests {
		if got := MeanVolumeDB(tt.buf); math.Abs(got-tt.want) > 1e-4 {
			t.Errorf("%s: MeanVolumeDB = %v, want %v", tt.name, got, tt.want)
		}
	}
}
