package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest lists the static assets of one cache version.
type Manifest struct {
	Version string   `toml:"version" yaml:"version"`
	Shell   string   `toml:"shell" yaml:"shell"`
	Assets  []string `toml:"assets" yaml:"assets"`
}

// DefaultManifest is the asset list the app ships with.
func DefaultManifest() *Manifest {
	return &Manifest{
		Version: "exposure-tracker-v1.0.0",
		Shell:   "/index.html",
		Assets: []string{
			"/",
			"/index.html",
			"/style.css",
			"/script.js",
			"/manifest.json",
		},
	}
}

// LoadManifest decodes a manifest file. Files ending in .yaml or .yml are
// YAML; anything else is TOML. Unknown keys are rejected in both.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(path, &m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, &m)
		if err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("manifest %s: unknown keys %v", path, undecoded)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func decodeYAML(path string, m *Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that the manifest names a version and at least one asset.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if len(m.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	for _, a := range m.Assets {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("empty asset entry")
		}
	}
	return nil
}

// URLs resolves the assets against origin. Absolute asset URLs are kept.
func (m *Manifest) URLs(origin *url.URL) ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(m.Assets))
	seen := make(map[string]bool, len(m.Assets))
	for _, a := range m.Assets {
		ref, err := url.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("bad asset %q: %w", a, err)
		}
		u := origin.ResolveReference(ref)
		if seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		out = append(out, u)
	}
	return out, nil
}
