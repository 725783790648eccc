package pipeline_test

import (
	"errors"
	"strings"
	"testing"

	"kizuna/internal/cli/pipeline"
	apperrors "kizuna/internal/platform/errors"
)

func TestDecodeManifestJSON(t *testing.T) {
	t.Parallel()

	m, err := pipeline.DecodeManifest([]byte(`{
		"files": ["a.txt", "b.txt"],
		"peers": ["laptop"],
		"mode": "parallel",
		"max_concurrent": 2,
		"priority": "high"
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(m.Files) != 2 || m.Files[1] != "b.txt" {
		t.Fatalf("files = %v", m.Files)
	}
	if m.Mode != "parallel" || m.MaxConcurrent != 2 || m.Priority != "high" {
		t.Fatalf("manifest = %+v", m)
	}
}

func TestDecodeManifestFallsBackToYAML(t *testing.T) {
	t.Parallel()

	m, err := pipeline.DecodeManifest([]byte("files:\n  - a.txt\npeers:\n  - laptop\nmode: sequential\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(m.Files) != 1 || m.Files[0] != "a.txt" || m.Mode != "sequential" {
		t.Fatalf("manifest = %+v", m)
	}
}

func TestDecodeManifestRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := pipeline.DecodeManifest([]byte("\tnot: [valid"))
	if err == nil {
		t.Fatal("want error for malformed manifest")
	}
	var cliErr *apperrors.CLIError
	if !errors.As(err, &cliErr) || cliErr.Kind != apperrors.KindParse {
		t.Fatalf("err = %v, want parse kind", err)
	}
}

func TestReadStdinClassifiesManifest(t *testing.T) {
	t.Parallel()

	items, err := pipeline.ReadStdin(strings.NewReader(`{"files":["x"],"peers":["p"]}`))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if items.Batch == nil {
		t.Fatal("want batch manifest")
	}
	if len(items.Files) != 0 || len(items.Peers) != 0 {
		t.Fatalf("manifest input must not also classify lines: %+v", items)
	}
}

func TestReadStdinSplitsPeersAndFiles(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"a5b96b17-9c11-4a0e-8d8c-27a8d78feb21",
		"",
		"notes/report.pdf",
		"  4b4e62dc-6f3a-4e6e-9f7a-52f1d9e9a001  ",
		"vacation.jpg",
	}, "\n")
	items, err := pipeline.ReadStdin(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items.Peers) != 2 {
		t.Fatalf("peers = %v, want 2", items.Peers)
	}
	if len(items.Files) != 2 || items.Files[0] != "notes/report.pdf" {
		t.Fatalf("files = %v", items.Files)
	}
	if items.Batch != nil {
		t.Fatal("line input must not produce a manifest")
	}
}

func TestReadStdinEmptyInputYieldsNothing(t *testing.T) {
	t.Parallel()

	items, err := pipeline.ReadStdin(strings.NewReader("  \n \n"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if items.Batch != nil || len(items.Files) != 0 || len(items.Peers) != 0 {
		t.Fatalf("items = %+v, want empty", items)
	}
}
