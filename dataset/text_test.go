package dataset

import (
	"path/filepath"
	"strings"
	"testing"
)

const pointer = "version https://git-lfs.github.com/spec/v1\n" +
	"oid sha256:4d7a214614ab2935c943f9e0ff69d22eadbb8f32b1258daaa5e2ca24d17e2393\n" +
	"size 12345\n"

func TestParseLFSPointer(t *testing.T) {
	p, ok := ParseLFSPointer(strings.NewReader(pointer))
	if !ok {
		t.Fatal("pointer not recognised")
	}
	if !strings.HasPrefix(p.OID, "sha256:4d7a") || p.Size != 12345 {
		t.Errorf("pointer = %+v", p)
	}
}

func TestParseLFSPointer_CRLF(t *testing.T) {
	crlf := strings.ReplaceAll(pointer, "\n", "\r\n")
	if _, ok := ParseLFSPointer(strings.NewReader(crlf)); !ok {
		t.Error("CRLF pointer not recognised")
	}
}

func TestParseLFSPointer_NotPointer(t *testing.T) {
	for _, in := range []string{
		"",
		"RIFF\x24\x00\x00\x00WAVEfmt ",
		"version https://git-lfs.github.com/spec/v1\nsize 10\n",
	} {
		if _, ok := ParseLFSPointer(strings.NewReader(in)); ok {
			t.Errorf("%q recognised as pointer", in)
		}
	}
}

func TestReadLFSPointer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	touch(t, path, pointer)
	_, ok, err := ReadLFSPointer(path)
	if err != nil || !ok {
		t.Errorf("ok = %v err = %v", ok, err)
	}
	if _, _, err := ReadLFSPointer(path + ".missing"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadLines(t *testing.T) {
	got, err := ReadLines(strings.NewReader("one\r\ntwo\nthree\nfour\nfive\nsix\n"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != "one\ntwo\nthree\nfour\nfive\n" {
		t.Errorf("got %q", got)
	}
}

func TestReadLines_BareCR(t *testing.T) {
	got, err := ReadLines(strings.NewReader("one\rtwo\r\nthree\rfour"), 3)
	if err != nil {
		t.Fatal(err)
	}
	if got != "one\ntwo\nthree\n" {
		t.Errorf("got %q", got)
	}
	got, _ = ReadLines(strings.NewReader("last\r"), 5)
	if got != "last\n" {
		t.Errorf("trailing CR: got %q", got)
	}
}

func TestReadLines_InvalidUTF8(t *testing.T) {
	got, err := ReadLines(strings.NewReader("RIFF\xff\xfe\x00WAVE\nnext"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if got != "RIFF\x00WAVE\nnext" {
		t.Errorf("got %q", got)
	}
}

func TestHeadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	touch(t, path, pointer)
	got, err := HeadLines(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(got, "\n") != 2 || !strings.HasPrefix(got, "version ") {
		t.Errorf("got %q", got)
	}
	if _, err := HeadLines(path+".missing", 2); err == nil {
		t.Error("expected error for missing file")
	}
}
