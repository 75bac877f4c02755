// Package populator selects, per extracted file, the handler that derives a
// node's display name and fills its content fields.
package populator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/csdb/internal/content"
)

// PriorityBase is the priority of a format-specific base populator. More
// specific populators rank above it, the catch-all ranks PriorityBase-1000.
const PriorityBase = 1000

// Populator recognises a file and populates a node version from it.
// Accept must not mutate content; it may only record marks on the Scratch.
type Populator interface {
	Name() string
	Priority() int
	Accept(path string, sc *Scratch) bool
	ParseNodeName(path string) string
	PopulateContent(ctx context.Context, path string, v *content.Version) error
}

// FieldWriter writes string fields on a draft version. *content.Store satisfies it.
type FieldWriter interface {
	SetStringField(ctx context.Context, v *content.Version, field, value string) error
}

// PopulateDisplayName writes name to the version's display field when it
// differs from the stored value. The version's cached display value follows.
func PopulateDisplayName(ctx context.Context, w FieldWriter, name string, v *content.Version) error {
	if v.Schema == nil || v.Schema.DisplayField == "" {
		return nil
	}
	field := v.Schema.DisplayField
	if current, ok := v.Fields[field]; ok && current == name {
		return nil
	}
	return w.SetStringField(ctx, v, field, name)
}

// Mark is a detection flag one populator can leave for the others during a
// single selection.
type Mark string

// MarkDataModule is set when the file name follows the data-module naming convention.
const MarkDataModule Mark = "data-module"

// Scratch is the per-lookup state shared by the Accept calls of one Select.
// It is created fresh for every file and never reused across files.
type Scratch struct {
	Path string
	// Info and Err hold the single os.Lstat of Path.
	Info  os.FileInfo
	Err   error
	Marks map[Mark]bool

	ext string
}

func newScratch(path string) *Scratch {
	info, err := os.Lstat(path)
	return &Scratch{
		Path:  path,
		Info:  info,
		Err:   err,
		Marks: make(map[Mark]bool),
		ext:   strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
	}
}

// Ext is the lower-cased extension of Path without the dot.
func (sc *Scratch) Ext() string { return sc.ext }

// IsRegular reports whether Path exists and is a regular file.
func (sc *Scratch) IsRegular() bool {
	return sc.Err == nil && sc.Info != nil && sc.Info.Mode().IsRegular()
}

// IsDir reports whether Path exists and is a directory.
func (sc *Scratch) IsDir() bool {
	return sc.Err == nil && sc.Info != nil && sc.Info.IsDir()
}

func (sc *Scratch) Mark(m Mark)        { sc.Marks[m] = true }
func (sc *Scratch) Marked(m Mark) bool { return sc.Marks[m] }
