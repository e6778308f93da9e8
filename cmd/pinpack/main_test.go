package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pinstrategy/internal/domain"
)

func TestReadInputsSniffsMime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	png := []byte("\x89PNG\r\n\x1a\n0000")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	inputs, err := readInputs([]string{path}, " Mug ")
	if err != nil {
		t.Fatalf("readInputs error: %v", err)
	}
	if len(inputs.Images) != 1 || inputs.Images[0].MIME != "image/png" {
		t.Fatalf("unexpected images %+v", inputs.Images)
	}
	if _, err := readInputs([]string{filepath.Join(dir, "missing.png")}, ""); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWritePacks(t *testing.T) {
	dir := t.TempDir()
	packs := []domain.ContentPack{
		{ID: "pack-0-1", Title: "Mug", Image: domain.Image{MIME: "image/png", Data: []byte("a")}},
		{ID: "pack-1-1", Title: "Mug 2", Image: domain.Image{MIME: "image/jpeg", Data: []byte("b")}},
	}
	if err := writePacks(context.Background(), dir, "run-1", "black mug", packs); err != nil {
		t.Fatalf("writePacks error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "packs", "run-1", "pin-02.jpg")); err != nil {
		t.Fatalf("second image missing: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "packs", "run-1", "packs.json"))
	if err != nil {
		t.Fatalf("read packs.json: %v", err)
	}
	var out packFile
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode packs.json: %v", err)
	}
	if out.ProductLock != "black mug" || len(out.Packs) != 2 || out.Packs[0].ImageURL != "packs/run-1/pin-01.png" {
		t.Fatalf("unexpected packs file %+v", out)
	}
}

func TestRunExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-vertical", "9", "-description", "mug"}, &stdout, &stderr); code != 2 {
		t.Fatalf("invalid settings exit code = %d, want 2", code)
	}
	if code := run([]string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unknown flag exit code = %d, want 2", code)
	}
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("empty inputs exit code = %d, want 2", code)
	}
}

func TestRunSyntheticWritesPacks(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	out := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"-description", "Handmade ceramic mug", "-out", out, "-timeout", "30s"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "pins written to") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	matches, err := filepath.Glob(filepath.Join(out, "packs", "*", "packs.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one packs.json, got %v (%v)", matches, err)
	}
}
