package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("level = %v", log.GetLevel())
	}
	log.Info("hidden")
	log.WithField("file", "a.wav").Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "file=a.wav") {
		t.Errorf("output = %q", out)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New("loud", nil); err == nil {
		t.Error("expected error")
	}
}
