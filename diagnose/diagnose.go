// Package diagnose implements the dataset diagnostic reports: header
// validity, format sniffing, raw content inspection and LFS verification.
//
// Every report is written to the Runner's output and summarised in a typed
// result. A bad file never aborts a report.
package diagnose

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/dataset"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrDatasetNotFound is returned when the dataset root does not exist.
var ErrDatasetNotFound = dataset.ErrNotFound

// Runner writes reports for one dataset layout.
type Runner struct {
	layout dataset.Layout
	out    io.Writer
	log    logrus.FieldLogger
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput sets the report destination (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithLogger sets the logger used for per-file debug output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a Runner for layout.
func NewRunner(layout dataset.Layout, opts ...Option) *Runner {
	r := &Runner{
		layout: layout,
		out:    os.Stdout,
		log:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// scan lists the dataset, printing the missing-root error or the
// missing-directory warnings.
func (r *Runner) scan(requireRoot bool) (*dataset.Scan, error) {
	var (
		s   *dataset.Scan
		err error
	)
	if requireRoot {
		s, err = r.layout.Scan()
	} else {
		s, err = r.layout.ScanLabels()
	}
	if errors.Is(err, dataset.ErrNotFound) {
		r.printf("Error: Dataset path '%s' does not exist.\n", r.layout.Root)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	for _, dir := range s.Missing {
		r.printf("Warning: Emotion directory not found: %s\n", dir)
	}
	return s, nil
}

// Problem is a file that failed a check.
type Problem struct {
	Path   string
	Detail string
}

// DiagnoseResult summarises Diagnose.
type DiagnoseResult struct {
	Total    int
	Readable int
	Problems []Problem
	// Sample is the file whose header was printed, if any.
	Sample string
}

// CheckFile returns the printable header description of path and whether
// its WAV header could be read.
func CheckFile(path string) (string, bool) {
	var sb strings.Builder
	if st, err := os.Stat(path); err == nil {
		fmt.Fprintf(&sb, "File size: %d bytes\n", st.Size())
	} else {
		return "Error: " + err.Error(), false
	}
	h, err := audio.ReadHeaderFile(path)
	if err != nil {
		return "Error: " + err.Error(), false
	}
	fmt.Fprintf(&sb, "Channels: %d\n", h.NumChannels)
	fmt.Fprintf(&sb, "Sample width: %d bytes\n", h.SampleWidth)
	fmt.Fprintf(&sb, "Frame rate: %d Hz\n", h.SampleRate)
	fmt.Fprintf(&sb, "Number of frames: %d\n", h.NumFrames)
	fmt.Fprintf(&sb, "Compression type: %s\n", h.CompType)
	fmt.Fprintf(&sb, "Compression name: %s\n", h.CompName)
	return sb.String(), true
}

// Diagnose tries to read every file's WAV header and reports the failures.
func (r *Runner) Diagnose() (*DiagnoseResult, error) {
	s, err := r.scan(true)
	if err != nil {
		return nil, err
	}

	res := &DiagnoseResult{Total: len(s.Files)}
	for _, f := range s.Files {
		info, ok := CheckFile(f.Path)
		if ok {
			res.Readable++
			continue
		}
		r.log.WithField("file", f.Path).Debug(info)
		res.Problems = append(res.Problems, Problem{Path: f.Path, Detail: info})
	}

	r.printf("\nDataset Diagnosis Report:\n")
	r.printf("Total audio files found: %d\n", res.Total)
	r.printf("Successfully readable files: %d\n", res.Readable)
	r.printf("Problematic files: %d\n", len(res.Problems))

	if len(res.Problems) > 0 {
		r.printf("\nDetailed information for problematic files:\n")
		for _, p := range res.Problems {
			r.printf("\n%s:\n%s\n", p.Path, p.Detail)
		}
	}

	if res.Readable == 0 {
		r.printf("\nWarning: No audio files could be read successfully. Please check your audio file formats and ensure they are not corrupted.\n")
		return res, nil
	}

	r.printf("\nSample information for a readable file:\n")
	if len(r.layout.Labels) > 0 {
		if sample := r.layout.FirstFile(r.layout.Labels[0]); sample != "" {
			info, _ := CheckFile(sample)
			r.printf("\n%s:\n%s\n", sample, info)
			res.Sample = sample
		}
	}
	return res, nil
}
