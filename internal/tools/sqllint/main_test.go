package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("package q\n\n"+body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "const QA = `--sql 1b4e28ba-2fa1-11d2-883f-0016d3cca427\nSELECT 1`\n")
	writeGo(t, dir, "b.go", "const label = \"not sql at all\"\n")

	vs, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint error: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("unexpected violations %v", vs)
	}
}

func TestLintReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "const QA = `--sql 1b4e28ba-2fa1-11d2-883f-0016d3cca427\nSELECT 1`\n")
	writeGo(t, dir, "b.go", "const (\n\tQB = `--sql 1b4e28ba-2fa1-11d2-883f-0016d3cca427\nDELETE FROM t`\n\tQC = \"CREATE TABLE t (id int)\"\n)\n")
	writeGo(t, dir, "b_test.go", "const QT = \"SELECT 2\"\n")

	vs, err := lint([]string{dir})
	if err != nil {
		t.Fatalf("lint error: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("expected 2 violations, got %v", vs)
	}
	var sawDup, sawMissing bool
	for _, v := range vs {
		switch v.name {
		case "QB":
			sawDup = strings.Contains(v.message, "already used by QA")
		case "QC":
			sawMissing = strings.Contains(v.message, "missing")
		}
	}
	if !sawDup || !sawMissing {
		t.Fatalf("unexpected violations %v", vs)
	}
}

func TestLintRealQueries(t *testing.T) {
	vs, err := lint([]string{filepath.Join("..", "..", "sqlinline")})
	if err != nil {
		t.Fatalf("lint error: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("sqlinline has marker problems: %v", vs)
	}
}
