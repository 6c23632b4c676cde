package audio

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrUndecodable is returned when every decoding backend rejected a file.
var ErrUndecodable = errors.New("no decoder could read the file")

// Backend decodes the audio file at path into a mono clip.
type Backend struct {
	Name   string
	Decode func(ctx context.Context, path string) (Clip, error)
}

// Decoder tries its backends in order and returns the first success.
type Decoder struct {
	backends []Backend
	log      logrus.FieldLogger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l logrus.FieldLogger) DecoderOption {
	return func(d *Decoder) {
		d.log = l
	}
}

// WithBackends replaces the backend chain.
func WithBackends(b ...Backend) DecoderOption {
	return func(d *Decoder) {
		d.backends = b
	}
}

// WithoutFFmpeg drops the ffmpeg transcode step from the default chain.
func WithoutFFmpeg() DecoderOption {
	return func(d *Decoder) {
		kept := make([]Backend, 0, len(d.backends))
		for _, b := range d.backends {
			if b.Name != "ffmpeg" {
				kept = append(kept, b)
			}
		}
		d.backends = kept
	}
}

// NewDecoder returns the default chain: native RIFF reader, go-audio/wav, ffmpeg.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		backends: []Backend{
			{Name: "native", Decode: decodeNative},
			{Name: "go-audio", Decode: decodeGoAudio},
			ffmpegBackend(ffmpegTranscode),
		},
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads path with the first backend that succeeds.
func (d *Decoder) Decode(ctx context.Context, path string) (Clip, error) {
	var msgs []string
	for _, b := range d.backends {
		if err := ctx.Err(); err != nil {
			return Clip{}, err
		}
		clip, err := b.Decode(ctx, path)
		if err == nil {
			if len(msgs) > 0 {
				d.log.WithFields(logrus.Fields{"file": path, "backend": b.Name}).Debug("decoded after fallback")
			}
			return clip, nil
		}
		d.log.WithFields(logrus.Fields{"file": path, "backend": b.Name}).WithError(err).Debug("decoder rejected file")
		msgs = append(msgs, fmt.Sprintf("%s: %v", b.Name, err))
	}
	return Clip{}, errors.Wrap(ErrUndecodable, strings.Join(msgs, "; "))
}

func decodeNative(_ context.Context, path string) (Clip, error) {
	clip, _, err := ReadWAVFile(path)
	return clip, err
}

func decodeGoAudio(_ context.Context, path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, errors.Wrap(err, "read PCM buffer")
	}
	ch := buf.Format.NumChannels
	if ch < 1 {
		return Clip{}, errors.New("no channels")
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		return Clip{}, errors.New("unknown bit depth")
	}
	maxVal := float64(int64(1) << uint(bitDepth-1))

	frames := len(buf.Data) / ch
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < ch; c++ {
			sum += float64(buf.Data[i*ch+c])
		}
		samples[i] = sum / float64(ch) / maxVal
	}
	return Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// ffmpegBackend transcodes anything ffmpeg understands into 16-bit mono
// PCM in a private temp file and reads the result with the native reader.
func ffmpegBackend(transcode func(src, dst string) error) Backend {
	return Backend{Name: "ffmpeg", Decode: func(ctx context.Context, path string) (Clip, error) {
		if err := ctx.Err(); err != nil {
			return Clip{}, err
		}
		f, err := os.CreateTemp("", "emotion-*.wav")
		if err != nil {
			return Clip{}, errors.Wrap(err, "ffmpeg temp file")
		}
		tmp := f.Name()
		f.Close()
		defer os.Remove(tmp)

		if err := transcode(path, tmp); err != nil {
			return Clip{}, errors.Wrap(err, "ffmpeg transcode")
		}
		if err := ctx.Err(); err != nil {
			return Clip{}, err
		}
		clip, _, err := ReadWAVFile(tmp)
		return clip, err
	}}
}

// ffmpegTranscode overwrites dst, which the caller has already created.
func ffmpegTranscode(src, dst string) error {
	return ffmpeg.Input(src).Output(dst, ffmpeg.KwArgs{
		"ac":     1,
		"acodec": "pcm_s16le",
		"f":      "wav",
	}).Silent(true).OverWriteOutput().Run()
}
