package importer

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/mattjoyce/csdb/internal/config"
)

// Selector maps an archive-relative, slash-separated path to a schema name.
type Selector interface {
	SelectSchema(relPath string, isDir bool) (string, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(relPath string, isDir bool) (string, error)

func (f SelectorFunc) SelectSchema(relPath string, isDir bool) (string, error) { return f(relPath, isDir) }

// RuleSelector sends directories to the folder schema and files to the first
// matching glob rule, falling back to the default schema. Globs are doublestar
// patterns matched case-insensitively.
type RuleSelector struct {
	folder   string
	fallback string
	rules    []config.SchemaRule
}

func NewRuleSelector(cfg config.ImportConfig) (*RuleSelector, error) {
	if strings.TrimSpace(cfg.FolderSchema) == "" {
		return nil, fmt.Errorf("folder schema is required")
	}
	if strings.TrimSpace(cfg.DefaultSchema) == "" {
		return nil, fmt.Errorf("default schema is required")
	}
	rules := make([]config.SchemaRule, 0, len(cfg.Rules))
	for i, r := range cfg.Rules {
		glob := strings.ToLower(strings.TrimSpace(r.Glob))
		if _, err := doublestar.Match(glob, "probe"); err != nil {
			return nil, fmt.Errorf("rule %d: bad glob %q: %w", i, r.Glob, err)
		}
		if strings.TrimSpace(r.Schema) == "" {
			return nil, fmt.Errorf("rule %d: schema is required", i)
		}
		rules = append(rules, config.SchemaRule{Glob: glob, Schema: r.Schema})
	}
	return &RuleSelector{folder: cfg.FolderSchema, fallback: cfg.DefaultSchema, rules: rules}, nil
}

// Overrides replaces schema choices for one import, the way archive-import
// job properties do.
type Overrides struct {
	Folder string
	XML    string
	Binary string
}

// WithOverrides returns a copy of s with o applied. A non-empty XML schema
// takes every .xml file ahead of the configured rules.
func (s *RuleSelector) WithOverrides(o Overrides) *RuleSelector {
	out := &RuleSelector{folder: s.folder, fallback: s.fallback}
	if o.Folder != "" {
		out.folder = o.Folder
	}
	if o.Binary != "" {
		out.fallback = o.Binary
	}
	if o.XML != "" {
		out.rules = append(out.rules, config.SchemaRule{Glob: "**/*.xml", Schema: o.XML})
	}
	out.rules = append(out.rules, s.rules...)
	return out
}

func (s *RuleSelector) SelectSchema(relPath string, isDir bool) (string, error) {
	if isDir {
		return s.folder, nil
	}
	name := strings.ToLower(path.Clean(strings.TrimPrefix(relPath, "/")))
	for _, r := range s.rules {
		ok, err := doublestar.Match(r.Glob, name)
		if err != nil {
			return "", fmt.Errorf("match %q against %q: %w", relPath, r.Glob, err)
		}
		if ok {
			return r.Schema, nil
		}
	}
	return s.fallback, nil
}
