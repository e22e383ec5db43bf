package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// LoadFile reads a page from a YAML or JSON file. The format is chosen by
// extension; anything other than .json is read as YAML.
func LoadFile(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.ErrSnapshotNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var page Page
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &page)
	} else {
		err = yaml.Unmarshal(data, &page)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if page.ID == "" {
		page.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &page, nil
}

// SaveFile writes page to path, as JSON for .json and YAML otherwise.
func SaveFile(path string, page *Page) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(page, "", "  ")
	} else {
		data, err = yaml.Marshal(page)
	}
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Dir serves pages stored as <id>.yaml, <id>.yml or <id>.json files.
type Dir struct {
	Path string
}

var pageExts = []string{".yaml", ".yml", ".json"}

// LoadPage implements Source.
func (d Dir) LoadPage(_ context.Context, id string) (*Page, error) {
	for _, ext := range pageExts {
		path := filepath.Join(d.Path, id+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, core.ErrSnapshotNotFound.WithDetails(map[string]interface{}{"page": id, "dir": d.Path})
}
