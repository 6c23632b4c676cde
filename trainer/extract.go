package trainer

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ieee0824/emotion-go/audio"
	"github.com/ieee0824/emotion-go/dataset"
	"github.com/ieee0824/emotion-go/feature"
)

// Sample is the summary feature vector of one labelled file.
type Sample struct {
	dataset.File
	Features []float64
}

func extractWorkers(n int) int {
	if n > 0 {
		return n
	}
	w := runtime.NumCPU()
	if w > 8 {
		w = 8
	}
	return w
}

// Extract decodes and summarizes files on a bounded worker pool. Files
// that cannot be decoded or analysed are reported and left out; the
// remaining samples keep the order of files.
func (t *Trainer) Extract(ctx context.Context, files []dataset.File) ([]Sample, error) {
	type result struct {
		features []float64
		err      error
	}
	results := make([]result, len(files))

	var bar *mpb.Bar
	var progress *mpb.Progress
	if t.progress != nil {
		progress = mpb.NewWithContext(ctx, mpb.WithOutput(t.progress), mpb.WithWidth(64))
		bar = progress.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("Extracting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < extractWorkers(t.cfg.Workers); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i].features, results[i].err = t.extractOne(ctx, files[i].Path)
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}
feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if progress != nil {
		if ctx.Err() != nil {
			bar.Abort(false)
		}
		progress.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(files))
	for i, r := range results {
		if r.err != nil {
			fmt.Fprintf(t.out, "Error reading %s: %v\n", files[i].Path, r.err)
			t.log.WithFields(logrus.Fields{"file": files[i].Path, "label": files[i].Label}).WithError(r.err).Debug("file skipped")
			continue
		}
		samples = append(samples, Sample{File: files[i], Features: r.features})
	}
	return samples, nil
}

func (t *Trainer) extractOne(ctx context.Context, path string) ([]float64, error) {
	clip, err := t.decoder.Decode(ctx, path)
	if err != nil {
		return nil, err
	}
	if t.cfg.Features.TargetSampleRate > 0 && clip.SampleRate != t.cfg.Features.TargetSampleRate {
		clip = audio.ResampleClip(clip, t.cfg.Features.TargetSampleRate)
	}
	return feature.Summarize(clip.Samples, clip.SampleRate, t.cfg.Features)
}
