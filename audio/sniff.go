package audio

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// Format is a human-readable container name produced by sniffing.
type Format string

const (
	FormatWAV  Format = "WAV (RIFF)"
	FormatAIFF Format = "AIFF"
	FormatFLAC Format = "FLAC"
	FormatMP3  Format = "MP3"
	FormatOgg  Format = "Ogg"

	unknownPrefix = "Unknown"
)

// SniffLen is the number of leading bytes Identify looks at.
const SniffLen = 12

// Unknown reports whether f is the fallback "Unknown: <hex>" label.
func (f Format) Unknown() bool {
	return strings.HasPrefix(string(f), unknownPrefix)
}

// Identify classifies a file from its first 12 bytes by magic number.
// Shorter headers are matched as far as they go.
func Identify(header []byte) Format {
	if len(header) > SniffLen {
		header = header[:SniffLen]
	}
	switch {
	case bytes.HasPrefix(header, []byte("RIFF")) && slice(header, 8, 12) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(header, []byte("FORM")) && slice(header, 8, 12) == "AIFF":
		return FormatAIFF
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(header, []byte("ID3")) || bytes.HasPrefix(header, []byte{0xFF, 0xFB}):
		return FormatMP3
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatOgg
	}
	return Format(unknownPrefix + ": " + hex.EncodeToString(header))
}

func slice(b []byte, from, to int) string {
	if len(b) < to {
		return ""
	}
	return string(b[from:to])
}

// IdentifyFile sniffs the file at path. When the magic table has no match it
// asks the tag reader, which also knows MP4-family containers and ID3v1 trailers.
func IdentifyFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, SniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	format := Identify(header[:n])
	if !format.Unknown() {
		return format, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return format, nil
	}
	tf, ft, err := tag.Identify(f)
	if err != nil || tf == tag.UnknownFormat {
		return format, nil
	}
	if ft == tag.UnknownFileType {
		return Format(tf), nil
	}
	return Format(string(ft) + " (" + string(tf) + ")"), nil
}
