package suggest

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack is a phrase collection loaded from a YAML file, used to localize or
// personalize the built-in phrasebook.
type Pack struct {
	Metadata   PackMetadata   `yaml:"metadata"`
	Categories []PackCategory `yaml:"categories"`
}

type PackMetadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Language    string   `yaml:"language,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

type PackCategory struct {
	Name    string   `yaml:"name"`
	Phrases []string `yaml:"phrases"`
}

// LoadPack reads one pack from disk.
func LoadPack(path string) (Pack, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Pack{}, err
	}
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pack{}, err
	}
	return p, nil
}

// ValidatePack ensures a pack carries the required fields.
func ValidatePack(p Pack) error {
	if p.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if p.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if len(p.Categories) == 0 {
		return fmt.Errorf("categories must declare at least one entry")
	}
	for _, category := range p.Categories {
		if category.Name == "" {
			return fmt.Errorf("every category needs a name")
		}
		if len(category.Phrases) == 0 {
			return fmt.Errorf("category %q has no phrases", category.Name)
		}
	}
	return nil
}

// LoadPacksDir loads every .yaml/.yml pack in a directory, sorted by file
// name so merge order is stable. A missing directory is not an error.
func LoadPacksDir(dir string) ([]Pack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	packs := make([]Pack, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		pack, err := LoadPack(path)
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", name, err)
		}
		if err := ValidatePack(pack); err != nil {
			return nil, fmt.Errorf("pack %s: %w", name, err)
		}
		packs = append(packs, pack)
	}
	return packs, nil
}
