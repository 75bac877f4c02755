package populator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mattjoyce/csdb/internal/content"
)

// XMLName is the generic structured-document populator.
const XMLName = "xml"

// XML accepts regular files with an .xml extension and stores them as the
// version's content field.
type XML struct {
	deps Deps
}

func NewXML(deps Deps) *XML { return &XML{deps: deps} }

func (*XML) Name() string  { return XMLName }
func (*XML) Priority() int { return PriorityBase }

func (*XML) Accept(_ string, sc *Scratch) bool {
	return acceptsXML(sc)
}

func acceptsXML(sc *Scratch) bool {
	return sc.IsRegular() && sc.Ext() == "xml"
}

func (*XML) ParseNodeName(path string) string { return filepath.Base(path) }

func (x *XML) PopulateContent(ctx context.Context, path string, v *content.Version) error {
	if err := PopulateDisplayName(ctx, x.deps.Store, x.ParseNodeName(path), v); err != nil {
		return err
	}
	return PopulateXMLField(ctx, x.deps, path, v, content.FieldContent)
}

// PopulateXMLField stores the file at path as a new XML content entity and
// points field of v at it. A schema without an xml-typed field is skipped
// with a warning.
func PopulateXMLField(ctx context.Context, deps Deps, path string, v *content.Version, field string) error {
	if v.Schema == nil || !v.Schema.HasField(field, content.FieldXML) {
		schemaName := ""
		if v.Schema != nil {
			schemaName = v.Schema.SchemaName
		}
		deps.logger().Warn("schema has no xml field, content not stored",
			"schema", schemaName, "field", field, "path", path)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sum, size, err := content.Checksum(f)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", path, err)
	}

	bin := &content.Binary{
		ID:            uuid.NewString(),
		Kind:          content.BinaryKindXML,
		Size:          size,
		Checksum:      sum,
		SchemaName:    deps.SchemaName,
		SchemaVariant: deps.SchemaVariant,
	}
	blobs := deps.Store.Blobs()
	if err := blobs.Store(ctx, bin.ID, f); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}

	err = deps.Store.WithTransaction(ctx, func(ctx context.Context, tx *content.Store) error {
		if err := tx.CreateBinary(ctx, bin); err != nil {
			return err
		}
		return tx.SetBinaryField(ctx, v, field, bin.ID, filepath.Base(path))
	})
	if err != nil {
		if derr := blobs.Delete(ctx, bin.ID); derr != nil {
			deps.logger().Warn("failed to remove blob of unlinked content", "binary_id", bin.ID, "error", derr)
		}
		return err
	}

	deps.logger().Debug("stored xml content",
		"path", path, "version_id", v.ID, "binary_id", bin.ID, "size", size, "checksum", sum)
	return nil
}
