package selectors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-crawl-news/models"
	"gopkg.in/yaml.v3"
)

// Loader returns the selector set for a stage.
type Loader interface {
	Load(stage string, required ...string) (*Set, error)
}

// FileLoader reads <Dir>/<stage>.json, .yaml or .yml.
type FileLoader struct {
	Dir string
}

var extensions = []string{".json", ".yaml", ".yml"}

// NewFileLoader builds a loader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir}
}

// Load implements Loader.
func (l *FileLoader) Load(stage string, required ...string) (*Set, error) {
	if stage == "" {
		return nil, models.NewConfigError("stage", "stage name cannot be empty")
	}

	for _, ext := range extensions {
		path := filepath.Join(l.Dir, stage+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &models.ConfigError{Field: stage, Err: fmt.Errorf("read %s: %w", path, err)}
		}

		fields, err := decode(ext, data)
		if err != nil {
			return nil, &models.ConfigError{Field: stage, Err: fmt.Errorf("decode %s: %w", path, err)}
		}
		return New(stage, fields, required...)
	}

	return nil, models.NewConfigError(stage, "no selector file for stage %q in %s", stage, l.Dir)
}

func decode(ext string, data []byte) (map[string]string, error) {
	fields := make(map[string]string)
	var err error
	if ext == ".json" {
		err = json.Unmarshal(data, &fields)
	} else {
		err = yaml.Unmarshal(data, &fields)
	}
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// StaticLoader serves sets from an in-memory map of stage to fields.
type StaticLoader map[string]map[string]string

// Load implements Loader.
func (l StaticLoader) Load(stage string, required ...string) (*Set, error) {
	fields, ok := l[stage]
	if !ok {
		return nil, models.NewConfigError(stage, "no selectors configured for stage %q", stage)
	}
	return New(stage, fields, required...)
}
