package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
)

// FFmpegDecoder decodes arbitrary container audio (WebM/Opus, MP3, etc.)
// by piping the blob through an external ffmpeg process, the same
// external-tool pattern the reference transcription service uses for
// its own audio ingestion. No temp files: ffmpeg reads the blob from
// stdin and writes raw float32 PCM to stdout.
type FFmpegDecoder struct {
	// Path to the ffmpeg binary. Defaults to "ffmpeg" (resolved via PATH).
	Path string
}

// NewFFmpegDecoder returns a decoder using the given ffmpeg binary path,
// or "ffmpeg" from PATH if path is empty.
func NewFFmpegDecoder(path string) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{Path: path}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, blob []byte) (PCM, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	cmd := exec.CommandContext(ctx, d.Path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(blob)

	var out bytes.Buffer
	cmd.Stdout = &out
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, errBuf.String())
	}

	raw := out.Bytes()
	if len(raw)%4 != 0 {
		raw = raw[:len(raw)-(len(raw)%4)]
	}
	samples := make(PCM, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples decoded", ErrDecode)
	}
	return samples, nil
}

// WAVDecoder decodes 16-bit PCM WAV directly, without an external
// process. Used as a fast path for clients that already send WAV and
// as a dependency-free decoder for tests.
type WAVDecoder struct{}

func (WAVDecoder) Decode(ctx context.Context, blob []byte) (PCM, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if len(blob) < 44 {
		return nil, fmt.Errorf("%w: truncated wav header", ErrDecode)
	}
	if string(blob[0:4]) != "RIFF" || string(blob[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrDecode)
	}

	var (
		numChannels   uint16
		sampleRate    uint32
		bitsPerSample uint16
		dataOff       = -1
		dataLen       = 0
	)

	off := 12
	for off+8 <= len(blob) {
		chunkID := string(blob[off : off+4])
		chunkSize := int(binary.LittleEndian.Uint32(blob[off+4 : off+8]))
		body := off + 8
		if body+chunkSize > len(blob) {
			chunkSize = len(blob) - body
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrDecode)
			}
			numChannels = binary.LittleEndian.Uint16(blob[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(blob[body+4 : body+8])
			bitsPerSample = binary.LittleEndian.Uint16(blob[body+14 : body+16])
		case "data":
			dataOff = body
			dataLen = chunkSize
		}
		off = body + chunkSize
		if chunkSize%2 == 1 {
			off++
		}
	}

	if dataOff < 0 || numChannels == 0 || bitsPerSample != 16 {
		return nil, fmt.Errorf("%w: unsupported wav layout", ErrDecode)
	}

	frameBytes := int(numChannels) * 2
	numFrames := dataLen / frameBytes
	samples := make(PCM, 0, numFrames)
	for i := 0; i < numFrames; i++ {
		frameOff := dataOff + i*frameBytes
		var sum int32
		for c := 0; c < int(numChannels); c++ {
			s := int16(binary.LittleEndian.Uint16(blob[frameOff+c*2 : frameOff+c*2+2]))
			sum += int32(s)
		}
		mono := float32(sum) / float32(numChannels) / 32768.0
		samples = append(samples, mono)
	}

	if sampleRate != SampleRate {
		samples = resampleLinear(samples, int(sampleRate), SampleRate)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples decoded", ErrDecode)
	}
	return samples, nil
}

// resampleLinear does simple linear-interpolation resampling. It is not
// used for the ffmpeg path (ffmpeg resamples natively) but keeps the
// pure-Go WAV path self-contained and dependency-free.
func resampleLinear(in PCM, fromRate, toRate int) PCM {
	if fromRate == toRate || len(in) == 0 {
		return in
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(in)) * ratio)
	out := make(PCM, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		idx := int(srcPos)
		frac := float32(srcPos - float64(idx))
		if idx+1 < len(in) {
			out[i] = in[idx]*(1-frac) + in[idx+1]*frac
		} else if idx < len(in) {
			out[i] = in[idx]
		}
	}
	return out
}

// ValidateDuration enforces the §4.1 duration bounds after decoding.
func ValidateDuration(samples PCM) error {
	seconds := float64(len(samples)) / float64(SampleRate)
	if seconds < MinDurationSeconds || seconds > MaxDurationSeconds {
		return fmt.Errorf("%w: duration %.2fs out of [%.1f, %.1f]",
			ErrInvalidAudio, seconds, MinDurationSeconds, MaxDurationSeconds)
	}
	return nil
}
