package assets

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed default_assets.yaml
var defaultAssetsYAML []byte

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

type assetFile struct {
	Assets []Descriptor `yaml:"assets" toml:"assets"`
}

// Default returns the registry built from the embedded testnet asset table.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Parse(defaultAssetsYAML, "yaml")
	})
	return defaultRegistry, defaultErr
}

// Load reads an asset table from path. The format follows the file extension:
// .toml files are decoded as TOML, everything else as YAML.
func Load(path string) (*Registry, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("assets: path required")
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("assets: read %s: %w", trimmed, err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(trimmed), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes an asset table in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Registry, error) {
	var file assetFile
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("assets: decode toml: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("assets: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("assets: unsupported format %q", format)
	}
	return New(file.Assets)
}
