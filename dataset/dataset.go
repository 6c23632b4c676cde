// Package dataset reads the emotion-per-directory corpus layout:
// <root>/<label>/*.wav.
package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultLabels is the label set used when none is configured.
var DefaultLabels = []string{"anger", "happy", "neutral", "sadness"}

// ErrNotFound is returned when the dataset root does not exist.
var ErrNotFound = errors.New("dataset root not found")

// Layout describes a corpus on disk.
type Layout struct {
	Root   string
	Labels []string
}

// NewLayout returns a Layout with DefaultLabels when labels is empty.
func NewLayout(root string, labels []string) Layout {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	return Layout{Root: root, Labels: labels}
}

// File is one audio file of the corpus.
type File struct {
	Path  string
	Label string
}

// Scan is the result of listing every label directory.
type Scan struct {
	Files []File
	// Missing holds label directories that do not exist, in label order.
	Missing []string
}

// Dir returns the directory of label.
func (l Layout) Dir(label string) string {
	return filepath.Join(l.Root, label)
}

// Exists reports whether the root directory exists.
func (l Layout) Exists() bool {
	_, err := os.Stat(l.Root)
	return err == nil
}

// Scan lists the .wav files of each label directory. A missing root is
// ErrNotFound; missing label directories are recorded and skipped.
func (l Layout) Scan() (*Scan, error) {
	if !l.Exists() {
		return nil, errors.Wrapf(ErrNotFound, "%s", l.Root)
	}
	return l.ScanLabels()
}

// ScanLabels is Scan without the root check. A missing root shows up as
// every label directory missing.
func (l Layout) ScanLabels() (*Scan, error) {
	s := &Scan{}
	for _, label := range l.Labels {
		dir := l.Dir(label)
		names, err := l.wavNames(label)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.Missing = append(s.Missing, dir)
				continue
			}
			return nil, errors.Wrapf(err, "reading %s", dir)
		}
		for _, name := range names {
			s.Files = append(s.Files, File{Path: filepath.Join(dir, name), Label: label})
		}
	}
	return s, nil
}

// FirstFile returns the first .wav file (by name) of label, or "" when the
// directory is missing or holds none.
func (l Layout) FirstFile(label string) string {
	names, err := l.wavNames(label)
	if err != nil || len(names) == 0 {
		return ""
	}
	return filepath.Join(l.Dir(label), names[0])
}

func (l Layout) wavNames(label string) ([]string, error) {
	entries, err := os.ReadDir(l.Dir(label))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range entries {
		if de.IsDir() || !IsWAVName(de.Name()) {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names, nil
}

// IsWAVName reports whether name carries the lower-case .wav suffix.
func IsWAVName(name string) bool {
	return strings.HasSuffix(name, ".wav")
}

// Walk collects every .wav file under root at any depth, labelled by the
// name of its parent directory, sorted by path.
func Walk(root string) ([]File, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%s", root)
		}
		return nil, errors.Wrap(err, "stat dataset root")
	}
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsWAVName(d.Name()) {
			return nil
		}
		files = append(files, File{Path: path, Label: filepath.Base(filepath.Dir(path))})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", root)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Labels returns the labels of files in order.
func Labels(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Label
	}
	return out
}

// Distribution counts files per label in first-seen order.
func Distribution(files []File) ([]string, map[string]int) {
	counts := make(map[string]int)
	var order []string
	for _, f := range files {
		if _, ok := counts[f.Label]; !ok {
			order = append(order, f.Label)
		}
		counts[f.Label]++
	}
	return order, counts
}
