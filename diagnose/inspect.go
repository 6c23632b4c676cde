package diagnose

import (
	"strings"

	"github.com/ieee0824/emotion-go/dataset"
)

// DefaultInspectLines is the number of lines printed per sampled file.
const DefaultInspectLines = 5

// Sample is the leading text of one file.
type Sample struct {
	Path    string
	Content string
}

// InspectResult summarises InspectContents.
type InspectResult struct {
	Total   int
	Samples []Sample
}

// InspectContents prints the first lines of up to five files as text, which
// makes LFS pointers and HTML error pages obvious.
func (r *Runner) InspectContents(lines int) (*InspectResult, error) {
	if lines <= 0 {
		lines = DefaultInspectLines
	}
	s, err := r.scan(true)
	if err != nil {
		return nil, err
	}

	res := &InspectResult{Total: len(s.Files)}
	for _, f := range s.Files {
		if len(res.Samples) >= maxSamples {
			break
		}
		content, err := dataset.HeadLines(f.Path, lines)
		if err != nil {
			content = "Error: " + err.Error()
		}
		res.Samples = append(res.Samples, Sample{Path: f.Path, Content: content})
	}

	r.printf("\nDataset Analysis Report:\n")
	r.printf("Total files found: %d\n", res.Total)
	r.printf("\nSample file contents:\n")
	sep := strings.Repeat("-", 50)
	for _, smp := range res.Samples {
		r.printf("\nFile: %s\n%s\n%s\n", smp.Path, smp.Content, sep)
	}
	return res, nil
}
