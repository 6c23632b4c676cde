package diagnose

import (
	"github.com/ieee0824/emotion-go/audio"
)

// maxSamples bounds the per-report sample listings.
const maxSamples = 5

// FormatCount is one row of the format distribution.
type FormatCount struct {
	Format audio.Format
	Count  int
}

// IdentifyResult summarises IdentifyFormats.
type IdentifyResult struct {
	Total        int
	Distribution []FormatCount // first-seen order
	// Unknown lists up to five files whose format was not recognised.
	Unknown []Problem
}

// Count returns how many files were identified as f.
func (r *IdentifyResult) Count(f audio.Format) int {
	for _, fc := range r.Distribution {
		if fc.Format == f {
			return fc.Count
		}
	}
	return 0
}

// IdentifyFormats sniffs the magic bytes of every file.
func (r *Runner) IdentifyFormats() (*IdentifyResult, error) {
	s, err := r.scan(true)
	if err != nil {
		return nil, err
	}

	res := &IdentifyResult{Total: len(s.Files)}
	index := make(map[audio.Format]int)
	for _, f := range s.Files {
		format, err := audio.IdentifyFile(f.Path)
		if err != nil {
			r.log.WithField("file", f.Path).WithError(err).Warn("cannot read header")
			format = audio.Format("Error: " + err.Error())
		}
		i, ok := index[format]
		if !ok {
			i = len(res.Distribution)
			index[format] = i
			res.Distribution = append(res.Distribution, FormatCount{Format: format})
		}
		res.Distribution[i].Count++
		if format.Unknown() && len(res.Unknown) < maxSamples {
			res.Unknown = append(res.Unknown, Problem{Path: f.Path, Detail: string(format)})
		}
	}

	r.printf("\nDataset Analysis Report:\n")
	r.printf("Total audio files found: %d\n", res.Total)
	r.printf("\nFile format distribution:\n")
	for _, fc := range res.Distribution {
		r.printf("%s: %d files\n", fc.Format, fc.Count)
	}

	if len(res.Unknown) > 0 {
		r.printf("\nSample of files with unknown format:\n")
		for _, p := range res.Unknown {
			r.printf("%s: %s\n", p.Path, p.Detail)
		}
	}
	return res, nil
}
