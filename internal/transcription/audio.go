package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
	"github.com/codebuildervaibhav/transcript-agent/internal/types"
)

// CanonicalSampleRate is the rate every input is resampled to.
const CanonicalSampleRate = 16000

var supportedFormats = []string{
	".mp3", ".wav", ".m4a", ".ogg", ".oga", ".opus", ".flac", ".webm", ".aac", ".wma",
	".mp4", ".mkv", ".mov", ".avi",
}

// FFmpegNormalizer extracts the audio track of any audio or video file and
// resamples it to 16kHz mono 16-bit PCM.
type FFmpegNormalizer struct {
	TempDir    string
	SampleRate int
	// MaxDuration rejects longer media before its samples are decoded.
	// Zero means no limit.
	MaxDuration time.Duration
}

// NewFFmpegNormalizer creates a normalizer writing intermediate files to tempDir
func NewFFmpegNormalizer(tempDir string) *FFmpegNormalizer {
	return &FFmpegNormalizer{TempDir: tempDir, SampleRate: CanonicalSampleRate}
}

// Normalize converts inputPath and decodes the result. The returned waveform
// keeps the path of the normalized WAV; the caller removes it when done.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, inputPath string) (types.Waveform, error) {
	rate := n.SampleRate
	if rate <= 0 {
		rate = CanonicalSampleRate
	}
	outputPath := filepath.Join(n.TempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	args := []string{
		"-i", inputPath,
		"-vn",                     // Drop any video stream
		"-ar", strconv.Itoa(rate), // Canonical sample rate
		"-ac", "1", // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
	}
	if n.MaxDuration > 0 {
		// Stop just past the limit so overlong media is still detected
		args = append(args, "-t", strconv.FormatFloat((n.MaxDuration+time.Second).Seconds(), 'f', 3, 64))
	}
	args = append(args, "-y", outputPath)

	output, err := exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return types.Waveform{}, failure.Canceled("normalize", ctx.Err())
		}
		// ffmpeg rejecting the input means the media is unusable.
		return types.Waveform{}, failure.Permanent("normalize",
			fmt.Errorf("ffmpeg failed: %v\nOutput: %s", err, tail(output, 1000)))
	}

	wf, err := n.load(outputPath)
	if err != nil {
		os.Remove(outputPath)
		return types.Waveform{}, err
	}
	return wf, nil
}

// load checks the normalized file's length from its header, then decodes it.
func (n *FFmpegNormalizer) load(path string) (types.Waveform, error) {
	if n.MaxDuration > 0 {
		d, err := ProbeWAV(path)
		if err != nil {
			return types.Waveform{}, failure.Permanent("normalize", err)
		}
		if d > n.MaxDuration {
			return types.Waveform{}, TooLong(d, n.MaxDuration)
		}
	}
	wf, err := ReadWAV(path)
	if err != nil {
		return types.Waveform{}, failure.Permanent("normalize", err)
	}
	return wf, nil
}

// TooLong reports media longer than the configured limit.
func TooLong(d, limit time.Duration) error {
	return failure.Permanent("normalize",
		fmt.Errorf("media is %s long, limit is %s", d.Round(time.Second), limit))
}

// ProbeWAV reads the duration of a WAV file from its header without
// decoding the samples.
func ProbeWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("probe %s: not a valid wav file", path)
	}
	d, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	return d, nil
}

// ReadWAV decodes a PCM WAV file, downmixing to mono.
func ReadWAV(path string) (types.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Waveform{}, err
	}
	defer f.Close()

	wf, err := DecodeWAV(f)
	if err != nil {
		return types.Waveform{}, fmt.Errorf("decode %s: %w", path, err)
	}
	wf.Path = path
	return wf, nil
}

// DecodeWAV decodes PCM WAV data into a mono float waveform.
func DecodeWAV(r io.ReadSeeker) (types.Waveform, error) {
	decoder := wav.NewDecoder(r)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return types.Waveform{}, err
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return types.Waveform{}, errors.New("not a valid PCM wav stream")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data)/channels)
	for i := range samples {
		var sum int
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		samples[i] = float32(sum) / float32(channels) / scale
	}

	return types.Waveform{SampleRate: buf.Format.SampleRate, Samples: samples}, nil
}

// WriteWAV encodes wf as 16-bit mono PCM at path.
func WriteWAV(path string, wf types.Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, wf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeWAV writes wf as 16-bit mono PCM.
func EncodeWAV(w io.WriteSeeker, wf types.Waveform) error {
	encoder := wav.NewEncoder(w, wf.SampleRate, 16, 1, 1)

	data := make([]int, len(wf.Samples))
	for i, s := range wf.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: wf.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return encoder.Close()
}

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))

	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ValidateMediaType accepts a file when either its extension or its declared
// MIME type names audio or video content we can decode.
func ValidateMediaType(filename, mimeType string) bool {
	if ValidateAudioFormat(filename) {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/")
}

// ExtensionForMediaType picks a file extension for an upload with no usable name.
func ExtensionForMediaType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ".bin"
	}
	switch mediaType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm", "video/webm":
		return ".webm"
	case "video/mp4", "audio/mp4":
		return ".mp4"
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
