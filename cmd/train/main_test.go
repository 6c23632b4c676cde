package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/ieee0824/emotion-go/classifier"
	"github.com/ieee0824/emotion-go/dataset"
)

func TestFlagDefaultsMatchConfig(t *testing.T) {
	c := newCommand()
	for flag, want := range map[string]string{
		"epochs":        strconv.Itoa(classifier.DefaultTrainConfig().Epochs),
		"batch-size":    "32",
		"learning-rate": "0.001",
		"artifacts-dir": ".",
		"progress":      "true",
		"root":          "Dataset",
	} {
		f := c.Flags().Lookup(flag)
		if f == nil {
			t.Fatalf("no flag %s", flag)
		}
		if f.DefValue != want {
			t.Errorf("--%s default = %q, want %q", flag, f.DefValue, want)
		}
	}
}

func TestMissingRoot(t *testing.T) {
	c := newCommand()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&bytes.Buffer{})
	dir := t.TempDir()
	c.SetArgs([]string{"--root", filepath.Join(dir, "nope"), "--artifacts-dir", filepath.Join(dir, "models"), "--progress=false", "--log-level", "error"})
	err := c.ExecuteContext(context.Background())
	if !errors.Is(err, dataset.ErrNotFound) {
		t.Fatalf("err = %v, want dataset.ErrNotFound", err)
	}
	if !strings.Contains(out.String(), "does not exist") {
		t.Errorf("output = %q", out.String())
	}
}
