package pipeline

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"kizuna/internal/domain"
	apperrors "kizuna/internal/platform/errors"
)

// Manifest is a batch submission file. JSON and YAML are both accepted.
type Manifest struct {
	Files         []string `json:"files" yaml:"files"`
	Peers         []string `json:"peers" yaml:"peers"`
	Mode          string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	MaxConcurrent int      `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	Priority      string   `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// DecodeManifest parses a batch manifest, trying JSON first and YAML as the
// fallback, so piped JSON and hand-written YAML both work.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err == nil {
		return m, nil
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, apperrors.Parse("batch manifest is neither valid JSON nor YAML: " + err.Error())
	}
	return m, nil
}

// StdinItems is the classified content of piped standard input.
type StdinItems struct {
	Files []string
	Peers []domain.PeerID
	Batch *Manifest
}

// ReadStdin classifies piped input. Input opening with '{' or '[' is a batch
// manifest; otherwise each line is a peer id when it parses as a UUID and a
// file path when it does not.
func ReadStdin(r io.Reader) (StdinItems, error) {
	reader := bufio.NewReader(r)
	data, err := io.ReadAll(reader)
	if err != nil {
		return StdinItems{}, apperrors.IO(err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return StdinItems{}, nil
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		manifest, err := DecodeManifest([]byte(trimmed))
		if err != nil {
			return StdinItems{}, err
		}
		return StdinItems{Batch: &manifest}, nil
	}

	var items StdinItems
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if id, err := uuid.Parse(line); err == nil {
			items.Peers = append(items.Peers, id)
			continue
		}
		items.Files = append(items.Files, line)
	}
	return items, nil
}
