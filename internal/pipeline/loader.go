package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mtzanidakis/conclave/internal/swarm"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a pipeline definition. Files ending in .json are parsed
// as JSON, everything else as YAML.
func LoadFile(path string) (swarm.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return swarm.Pipeline{}, fmt.Errorf("read pipeline: %w", err)
	}
	p, err := Parse(data, strings.ToLower(filepath.Ext(path)) == ".json")
	if err != nil {
		return swarm.Pipeline{}, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

func Parse(data []byte, isJSON bool) (swarm.Pipeline, error) {
	var p swarm.Pipeline
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return p, fmt.Errorf("%w: parse pipeline: %w", swarm.ErrConfig, err)
		}
		return p, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%w: parse pipeline: %w", swarm.ErrConfig, err)
	}
	return p, nil
}
