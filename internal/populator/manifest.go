package populator

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFilename is the file name Discover looks for.
const ManifestFilename = "populator.yaml"

var manifestNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Manifest declares a naming-convention populator without code. It is layered
// on the XML base: the file must also pass the extension test.
//
//	name: ata-chapter
//	priority: 1500
//	pattern: '^ATA-(\d{2})-.*\.xml$'
//	template: 'ATA chapter %s'
//	accept_extensions: [xml]
//	content_field: content
type Manifest struct {
	Name             string   `yaml:"name"`
	Priority         *int     `yaml:"priority"`
	Pattern          string   `yaml:"pattern"`
	Template         string   `yaml:"template"`
	AcceptExtensions []string `yaml:"accept_extensions,omitempty"`
	ContentField     string   `yaml:"content_field,omitempty"`
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

func validateManifest(m *Manifest) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !manifestNamePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must be lower case letters, digits, '.', '_' or '-'", m.Name)
	}
	if m.Priority == nil {
		return fmt.Errorf("priority is required")
	}
	if *m.Priority <= PriorityBase-1000 {
		return fmt.Errorf("priority %d must rank above the catch-all (%d)", *m.Priority, PriorityBase-1000)
	}
	if strings.TrimSpace(m.Pattern) == "" {
		return fmt.Errorf("pattern is required")
	}
	if strings.TrimSpace(m.Template) == "" {
		return fmt.Errorf("template is required")
	}
	return nil
}

func (m *Manifest) spec() PatternSpec {
	return PatternSpec{
		Name:         m.Name,
		Priority:     *m.Priority,
		Pattern:      m.Pattern,
		Template:     m.Template,
		Extensions:   m.AcceptExtensions,
		ContentField: m.ContentField,
	}
}

// CheckManifest loads the manifest at path and builds its populator without
// registering it, returning the first problem found.
func CheckManifest(path string) (*Manifest, error) {
	m, err := loadManifest(path)
	if err != nil {
		return nil, err
	}
	if _, err := NewPattern(m.spec(), Deps{}); err != nil {
		return m, err
	}
	return m, nil
}
