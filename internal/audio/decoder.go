package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned when no decoder handles a file.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder turns encoded audio bytes into a Buffer. The name is only used to
// pick a codec.
type Decoder interface {
	Decode(ctx context.Context, name string, data []byte) (*Buffer, error)
}

// FFmpegDecoder pipes bytes through ffmpeg, producing 48kHz stereo. It
// handles any format ffmpeg knows.
type FFmpegDecoder struct {
	Path string // ffmpeg binary, "ffmpeg" when empty
}

func (d FFmpegDecoder) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	bin := d.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", name, err)
	}
	return bufferFromS16LE(out, Channels, SampleRate), nil
}

// NativeDecoder decodes MP3 and WAV in process. Other formats go to
// Fallback when it is set.
type NativeDecoder struct {
	Fallback Decoder
}

func (d NativeDecoder) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return decodeMP3(name, data)
	case ".wav":
		return decodeWAV(name, data)
	}
	if d.Fallback != nil {
		return d.Fallback.Decode(ctx, name, data)
	}
	return nil, fmt.Errorf("decode %s: %w", name, ErrUnsupportedFormat)
}

func decodeMP3(name string, data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3 decode %s: %w", name, err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode %s: %w", name, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("mp3 decode %s: no audio frames", name)
	}
	return bufferFromS16LE(pcm, 2, dec.SampleRate()), nil
}

func decodeWAV(name string, data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav decode %s: invalid file", name)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav decode %s: %w", name, err)
	}
	format := dec.Format()
	bitDepth := int(dec.SampleBitDepth())
	if bitDepth == 0 || format == nil || format.NumChannels == 0 {
		return nil, fmt.Errorf("wav decode %s: unknown sample format", name)
	}
	bytesPerSample := (bitDepth-1)/8 + 1
	nsamples := int(dec.PCMLen()) / bytesPerSample

	ib := &audio.IntBuffer{
		Format:         format,
		Data:           make([]int, nsamples),
		SourceBitDepth: bitDepth,
	}
	n, err := dec.PCMBuffer(ib)
	if err != nil {
		return nil, fmt.Errorf("wav decode %s: %w", name, err)
	}

	nch := format.NumChannels
	frames := n / nch
	factor := math.Pow(2, float64(bitDepth-1))
	buf := NewBuffer(nch, frames, format.SampleRate)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < nch; ch++ {
			buf.Data[ch][i] = float32(float64(ib.Data[i*nch+ch]) / factor)
		}
	}
	return buf, nil
}

// bufferFromS16LE deinterleaves signed 16-bit little-endian PCM.
func bufferFromS16LE(pcm []byte, channels, sampleRate int) *Buffer {
	frames := len(pcm) / (2 * channels)
	buf := NewBuffer(channels, frames, sampleRate)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			buf.Data[ch][i] = float32(s) / 32768
		}
	}
	return buf
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// WAVWriter streams interleaved stereo frames into a 16-bit WAV file.
// The header sizes are fixed up on Close.
type WAVWriter struct {
	enc *wav.Encoder
}

// NewWAVWriter starts a WAV stream on w.
func NewWAVWriter(w io.WriteSeeker) *WAVWriter {
	return &WAVWriter{enc: wav.NewEncoder(w, SampleRate, BitDepth, Channels, 1)}
}

// Write appends samples.
func (w *WAVWriter) Write(samples []int16) error {
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: BitDepth,
	}
	for i, s := range samples {
		ib.Data[i] = int(s)
	}
	if err := w.enc.Write(ib); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

// Close finalizes the header. It does not close the underlying writer.
func (w *WAVWriter) Close() error {
	return w.enc.Close()
}

// WriteWAV encodes samples as a complete WAV file.
func WriteWAV(w io.WriteSeeker, samples []int16) error {
	ww := NewWAVWriter(w)
	if err := ww.Write(samples); err != nil {
		return err
	}
	return ww.Close()
}
