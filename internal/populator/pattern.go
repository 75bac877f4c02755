package populator

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/mattjoyce/csdb/internal/content"
)

const (
	// DataModuleName is the S1000D data-module populator.
	DataModuleName = "s1000d-dm"
	// DataModulePattern captures the data module code of a DMC or DME file name.
	DataModulePattern  = `^(?:DMC-|DME-\w+-\w+-)((?:\w+-){7}\w).*$`
	DataModuleTemplate = "DMC-%s.XML"
)

// PatternSpec describes a naming-convention populator layered on the XML base.
type PatternSpec struct {
	Name     string
	Priority int
	// Pattern is matched against the file's base name; its first capture
	// group feeds Template, which must contain exactly one %s.
	Pattern  string
	Template string
	// Extensions the base test accepts, lower case, without dots. Empty means xml.
	Extensions   []string
	ContentField string
	// Mark, when set, is recorded on the Scratch whenever Pattern matches.
	Mark Mark
}

// Pattern accepts files whose base name matches a strict pattern and derives
// the display name from its first capture group.
type Pattern struct {
	spec PatternSpec
	re   *regexp.Regexp
	deps Deps
}

func NewPattern(spec PatternSpec, deps Deps) (*Pattern, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("pattern populator name is required")
	}
	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, fmt.Errorf("populator %q: invalid pattern: %w", spec.Name, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("populator %q: pattern needs a capture group", spec.Name)
	}
	if strings.Count(spec.Template, "%s") != 1 || strings.Count(spec.Template, "%") != 1 {
		return nil, fmt.Errorf("populator %q: template must contain exactly one %%s", spec.Name)
	}
	if spec.ContentField == "" {
		spec.ContentField = content.FieldContent
	}
	exts := make([]string, 0, len(spec.Extensions))
	for _, ext := range spec.Extensions {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(ext, ".")))
	}
	spec.Extensions = exts
	return &Pattern{spec: spec, re: re, deps: deps}, nil
}

// NewDataModule returns the built-in S1000D data-module populator.
func NewDataModule(deps Deps) *Pattern {
	p, err := NewPattern(PatternSpec{
		Name:     DataModuleName,
		Priority: PriorityBase + 1000,
		Pattern:  DataModulePattern,
		Template: DataModuleTemplate,
		Mark:     MarkDataModule,
	}, deps)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) Name() string  { return p.spec.Name }
func (p *Pattern) Priority() int { return p.spec.Priority }

func (p *Pattern) Accept(path string, sc *Scratch) bool {
	if !p.re.MatchString(filepath.Base(path)) {
		return false
	}
	if p.spec.Mark != "" {
		sc.Mark(p.spec.Mark)
	}
	if len(p.spec.Extensions) == 0 {
		return acceptsXML(sc)
	}
	return sc.IsRegular() && slices.Contains(p.spec.Extensions, sc.Ext())
}

func (p *Pattern) ParseNodeName(path string) string {
	base := filepath.Base(path)
	m := p.re.FindStringSubmatch(base)
	if len(m) < 2 {
		return base
	}
	return fmt.Sprintf(p.spec.Template, m[1])
}

func (p *Pattern) PopulateContent(ctx context.Context, path string, v *content.Version) error {
	if err := PopulateDisplayName(ctx, p.deps.Store, p.ParseNodeName(path), v); err != nil {
		return err
	}
	return PopulateXMLField(ctx, p.deps, path, v, p.spec.ContentField)
}
