package audio

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// Header holds the parsed RIFF/WAV header fields.
type Header struct {
	AudioFormat uint16
	NumChannels int
	SampleWidth int // bytes per sample
	SampleRate  int
	NumFrames   int
	CompType    string
	CompName    string
}

// Duration returns the clip length in seconds.
func (h Header) Duration() float64 {
	if h.SampleRate == 0 {
		return 0
	}
	return float64(h.NumFrames) / float64(h.SampleRate)
}

// Clip is mono audio normalized to [-1.0, 1.0].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

type fmtChunk struct {
	audioFormat   uint16
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// riffLayout walks the chunk list and stops at the data chunk, leaving r
// positioned at the first PCM byte.
func riffLayout(r io.ReadSeeker) (fmtChunk, uint32, error) {
	var fc fmtChunk

	var riffID [4]byte
	if err := binary.Read(r, binary.LittleEndian, &riffID); err != nil {
		return fc, 0, errors.Wrap(err, "read RIFF ID")
	}
	if string(riffID[:]) != "RIFF" {
		return fc, 0, errors.New("file does not start with RIFF id")
	}

	var fileSize uint32
	if err := binary.Read(r, binary.LittleEndian, &fileSize); err != nil {
		return fc, 0, errors.Wrap(err, "read file size")
	}

	var waveID [4]byte
	if err := binary.Read(r, binary.LittleEndian, &waveID); err != nil {
		return fc, 0, errors.Wrap(err, "read WAVE ID")
	}
	if string(waveID[:]) != "WAVE" {
		return fc, 0, errors.New("not a WAVE file")
	}

	fmtFound := false
	for {
		var chunkID [4]byte
		if err := binary.Read(r, binary.LittleEndian, &chunkID); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fc, 0, errors.Wrap(err, "read chunk ID")
		}

		var chunkSize uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return fc, 0, errors.Wrap(err, "read chunk size")
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if err := readFmtChunk(r, chunkSize, &fc); err != nil {
				return fc, 0, err
			}
			fmtFound = true

		case "data":
			if !fmtFound {
				return fc, 0, errors.New("data chunk before fmt chunk")
			}
			return fc, chunkSize, nil

		default:
			// Skip unknown chunks; align to even boundary
			skip := int64(chunkSize)
			if chunkSize%2 != 0 {
				skip++
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return fc, 0, errors.Wrapf(err, "skip chunk %q", chunkID)
			}
		}
	}

	if !fmtFound {
		return fc, 0, errors.New("fmt chunk missing")
	}
	return fc, 0, errors.New("data chunk missing")
}

func readFmtChunk(r io.ReadSeeker, size uint32, fc *fmtChunk) error {
	if size < 16 {
		return errors.Errorf("fmt chunk too small (%d bytes)", size)
	}
	if err := binary.Read(r, binary.LittleEndian, &fc.audioFormat); err != nil {
		return errors.Wrap(err, "read audio format")
	}
	if err := binary.Read(r, binary.LittleEndian, &fc.numChannels); err != nil {
		return errors.Wrap(err, "read num channels")
	}
	if err := binary.Read(r, binary.LittleEndian, &fc.sampleRate); err != nil {
		return errors.Wrap(err, "read sample rate")
	}
	// Skip byteRate (4 bytes) and blockAlign (2 bytes)
	if _, err := r.Seek(6, io.SeekCurrent); err != nil {
		return errors.Wrap(err, "skip byte rate / block align")
	}
	if err := binary.Read(r, binary.LittleEndian, &fc.bitsPerSample); err != nil {
		return errors.Wrap(err, "read bits per sample")
	}
	consumed := uint32(16)

	if fc.audioFormat == formatExtensible && size >= 40 {
		// cbSize(2) validBits(2) channelMask(4), then the sub-format GUID
		// whose first two bytes carry the real format tag.
		if _, err := r.Seek(8, io.SeekCurrent); err != nil {
			return errors.Wrap(err, "skip extensible header")
		}
		var sub uint16
		if err := binary.Read(r, binary.LittleEndian, &sub); err != nil {
			return errors.Wrap(err, "read sub-format")
		}
		fc.audioFormat = sub
		consumed += 10
	}

	if fc.numChannels == 0 {
		return errors.New("bad # of channels")
	}
	if fc.bitsPerSample == 0 {
		return errors.New("bad sample width")
	}

	// Skip any extra fmt bytes, padded to an even boundary
	rest := int64(size - consumed)
	if size%2 != 0 {
		rest++
	}
	if rest > 0 {
		if _, err := r.Seek(rest, io.SeekCurrent); err != nil {
			return errors.Wrap(err, "skip extra fmt bytes")
		}
	}
	return nil
}

func (fc fmtChunk) header(dataSize uint32) Header {
	width := (int(fc.bitsPerSample) + 7) / 8
	return Header{
		AudioFormat: fc.audioFormat,
		NumChannels: int(fc.numChannels),
		SampleWidth: width,
		SampleRate:  int(fc.sampleRate),
		NumFrames:   int(dataSize) / (int(fc.numChannels) * width),
		CompType:    "NONE",
		CompName:    "not compressed",
	}
}

// ReadHeader parses the RIFF header and accepts only uncompressed integer PCM,
// the same files a strict stdlib-style WAV reader opens.
func ReadHeader(r io.ReadSeeker) (Header, error) {
	fc, dataSize, err := riffLayout(r)
	if err != nil {
		return Header{}, err
	}
	if fc.audioFormat != formatPCM {
		return Header{}, errors.Errorf("unknown format: %d", fc.audioFormat)
	}
	return fc.header(dataSize), nil
}

// ReadHeaderFile is a convenience wrapper that opens a file path.
func ReadHeaderFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return ReadHeader(f)
}

// ReadWAV decodes integer PCM (8/16/24/32-bit) and IEEE float (32/64-bit) data.
// Multi-channel audio is averaged down to mono.
func ReadWAV(r io.ReadSeeker) (Clip, Header, error) {
	fc, dataSize, err := riffLayout(r)
	if err != nil {
		return Clip{}, Header{}, err
	}
	if fc.audioFormat != formatPCM && fc.audioFormat != formatIEEEFloat {
		return Clip{}, Header{}, errors.Errorf("unsupported audio format %d", fc.audioFormat)
	}
	h := fc.header(dataSize)
	if fc.audioFormat == formatIEEEFloat {
		h.CompType = "FLOAT"
		h.CompName = "IEEE float"
	}

	raw := make([]byte, h.NumFrames*h.NumChannels*h.SampleWidth)
	n, err := io.ReadFull(r, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Clip{}, h, errors.Wrap(err, "read PCM data")
	}
	// Truncated data chunks are common in scraped corpora; keep whole frames.
	frameBytes := h.NumChannels * h.SampleWidth
	h.NumFrames = n / frameBytes
	raw = raw[:h.NumFrames*frameBytes]

	conv, err := sampleConverter(fc.audioFormat, h.SampleWidth)
	if err != nil {
		return Clip{}, h, err
	}

	samples := make([]float64, h.NumFrames)
	invCh := 1.0 / float64(h.NumChannels)
	for i := 0; i < h.NumFrames; i++ {
		off := i * frameBytes
		sum := 0.0
		for c := 0; c < h.NumChannels; c++ {
			sum += conv(raw[off+c*h.SampleWidth:])
		}
		samples[i] = sum * invCh
	}

	return Clip{Samples: samples, SampleRate: h.SampleRate}, h, nil
}

// ReadWAVFile is a convenience wrapper that opens a file path.
func ReadWAVFile(path string) (Clip, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, Header{}, err
	}
	defer f.Close()
	return ReadWAV(f)
}

func sampleConverter(format uint16, width int) (func([]byte) float64, error) {
	if format == formatIEEEFloat {
		switch width {
		case 4:
			return func(b []byte) float64 {
				return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			}, nil
		case 8:
			return func(b []byte) float64 {
				return math.Float64frombits(binary.LittleEndian.Uint64(b))
			}, nil
		}
		return nil, errors.Errorf("unsupported float width %d", width)
	}
	switch width {
	case 1:
		// 8-bit WAV is unsigned
		return func(b []byte) float64 { return (float64(b[0]) - 128) / 128.0 }, nil
	case 2:
		return func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
		}, nil
	case 3:
		return func(b []byte) float64 {
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			return float64(v) / 8388608.0
		}, nil
	case 4:
		return func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648.0
		}, nil
	}
	return nil, errors.Errorf("unsupported sample width %d", width)
}
