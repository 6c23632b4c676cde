package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const lfsVersionLine = "version https://git-lfs.github.com/spec/v1"

// maxPointerSize bounds how much of a file is read when looking for an LFS
// pointer. Real pointers are about 130 bytes.
const maxPointerSize = 1024

// LFSPointer is the text stub git-lfs leaves in place of an unfetched object.
type LFSPointer struct {
	OID  string // "sha256:<hex>"
	Size int64
}

// ParseLFSPointer reads a pointer file. It returns ok=false when r does not
// start with the git-lfs version line or lacks an oid.
func ParseLFSPointer(r io.Reader) (LFSPointer, bool) {
	var p LFSPointer
	scanner := bufio.NewScanner(io.LimitReader(r, maxPointerSize))
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			if line != lfsVersionLine {
				return p, false
			}
			first = false
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch key {
		case "oid":
			p.OID = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				p.Size = n
			}
		}
	}
	return p, !first && p.OID != ""
}

// ReadLFSPointer is ParseLFSPointer on a file path.
func ReadLFSPointer(path string) (LFSPointer, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return LFSPointer{}, false, err
	}
	defer f.Close()
	p, ok := ParseLFSPointer(f)
	return p, ok, nil
}

// HeadLines returns the first n lines of path as text, each ending in
// "\n". Bytes that are not valid UTF-8 are dropped.
func HeadLines(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening file")
	}
	defer f.Close()
	return ReadLines(f, n)
}

// ReadLines is HeadLines on a reader. "\n", "\r\n" and a lone "\r" all
// end a line and are returned as "\n".
func ReadLines(r io.Reader, n int) (string, error) {
	br := bufio.NewReader(r)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		line, eol, err := readLine(br)
		sb.WriteString(validUTF8(line))
		if eol {
			sb.WriteByte('\n')
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, "reading file")
		}
	}
	return sb.String(), nil
}

// readLine returns the bytes before the next line terminator and whether
// one was found.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			return line, false, err
		}
		switch c {
		case '\n':
			return line, true, nil
		case '\r':
			next, err := br.ReadByte()
			if err == nil && next != '\n' {
				err = br.UnreadByte()
			}
			if err == io.EOF {
				err = nil
			}
			return line, true, err
		}
		line = append(line, c)
	}
}

func validUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}
