package populator

import (
	"context"
	"path/filepath"

	"github.com/mattjoyce/csdb/internal/content"
)

// DefaultName is the catch-all populator. It can never be disabled.
const DefaultName = "default"

// Default accepts every path and only sets the display name from the file name.
type Default struct {
	deps Deps
}

func NewDefault(deps Deps) *Default { return &Default{deps: deps} }

func (*Default) Name() string                     { return DefaultName }
func (*Default) Priority() int                    { return PriorityBase - 1000 }
func (*Default) Accept(string, *Scratch) bool     { return true }
func (*Default) ParseNodeName(path string) string { return filepath.Base(path) }

func (d *Default) PopulateContent(ctx context.Context, path string, v *content.Version) error {
	return PopulateDisplayName(ctx, d.deps.Store, d.ParseNodeName(path), v)
}
