package diagnose

import (
	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/dataset"
)

// VerifyResult summarises VerifyLFS.
type VerifyResult struct {
	Total int
	Valid int
	// Pointers counts files that are still git-lfs pointer stubs.
	Pointers int
	// PointerSamples lists up to five of them.
	PointerSamples []string
}

// Invalid returns the number of files that failed the WAV check.
func (v *VerifyResult) Invalid() int { return v.Total - v.Valid }

// OK reports whether every file is a readable WAV.
func (v *VerifyResult) OK() bool { return v.Valid == v.Total }

// VerifyLFS checks that every file opens as WAV, which fails for files git
// lfs has not fetched yet. A missing root is not an error here: every
// label directory is reported missing and the totals are zero.
func (r *Runner) VerifyLFS() (*VerifyResult, error) {
	s, err := r.scan(false)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Total: len(s.Files)}
	for _, f := range s.Files {
		if _, err := audio.ReadHeaderFile(f.Path); err == nil {
			res.Valid++
			continue
		}
		if _, ok, _ := dataset.ReadLFSPointer(f.Path); ok {
			res.Pointers++
			if len(res.PointerSamples) < maxSamples {
				res.PointerSamples = append(res.PointerSamples, f.Path)
			}
		}
	}

	r.printf("Total files: %d\n", res.Total)
	r.printf("Valid WAV files: %d\n", res.Valid)

	if res.OK() {
		r.printf("All files are valid WAV files. You can proceed with your training script.\n")
		return res, nil
	}
	r.printf("Warning: %d files are not valid WAV files.\n", res.Invalid())
	if res.Pointers > 0 {
		r.printf("%d of them are Git LFS pointer files:\n", res.Pointers)
		for _, p := range res.PointerSamples {
			r.printf("  %s\n", p)
		}
	}
	r.printf("You may need to re-run 'git lfs pull' or check your Git LFS setup.\n")
	return res, nil
}
