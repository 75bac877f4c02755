package content

import (
	"context"
	"errors"
	"fmt"
)

const (
	DefaultFolderSchema = "folder"
	DefaultXMLSchema    = "xml-document"
	DefaultBinarySchema = "binary"

	FieldName       = "name"
	FieldContent    = "content"
	FieldBinaryName = "binary"
)

// SeedOptions names the entities Seed ensures exist.
type SeedOptions struct {
	Language     string
	Release      string
	Creator      string
	RootName     string
	FolderSchema string
	XMLSchema    string
	BinarySchema string
}

// Seeded is what Seed found or created.
type Seeded struct {
	Language *Language
	Release  *Release
	Folder   *SchemaVersion
	XML      *SchemaVersion
	Binary   *SchemaVersion
	Root     *Node
}

// Seed ensures a language, a release, the three import schemas and a root
// folder exist. Running it again returns the existing entities.
func (s *Store) Seed(ctx context.Context, opts SeedOptions) (*Seeded, error) {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Release == "" {
		opts.Release = "main"
	}
	if opts.RootName == "" {
		opts.RootName = "root"
	}
	if opts.FolderSchema == "" {
		opts.FolderSchema = DefaultFolderSchema
	}
	if opts.XMLSchema == "" {
		opts.XMLSchema = DefaultXMLSchema
	}
	if opts.BinarySchema == "" {
		opts.BinarySchema = DefaultBinarySchema
	}

	out := &Seeded{}
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		var err error
		if out.Language, err = tx.EnsureLanguage(ctx, opts.Language, ""); err != nil {
			return err
		}

		out.Release, err = tx.ReleaseByName(ctx, opts.Release)
		if errors.Is(err, ErrNotFound) {
			out.Release, err = tx.CreateRelease(ctx, opts.Release)
		}
		if err != nil {
			return err
		}

		if out.Folder, err = tx.ensureSchema(ctx, opts.FolderSchema, []FieldSchema{
			{Name: FieldName, Type: FieldString},
		}); err != nil {
			return err
		}
		if out.XML, err = tx.ensureSchema(ctx, opts.XMLSchema, []FieldSchema{
			{Name: FieldName, Type: FieldString},
			{Name: FieldContent, Type: FieldXML},
		}); err != nil {
			return err
		}
		if out.Binary, err = tx.ensureSchema(ctx, opts.BinarySchema, []FieldSchema{
			{Name: FieldName, Type: FieldString},
			{Name: FieldBinaryName, Type: FieldBinary},
		}); err != nil {
			return err
		}

		roots, err := tx.Roots(ctx, out.Release.ID)
		if err != nil {
			return err
		}
		if len(roots) > 0 {
			out.Root = roots[0]
			return nil
		}

		root, err := tx.CreateNode(ctx, NewNode{ReleaseID: out.Release.ID, SchemaID: out.Folder.SchemaID, Creator: opts.Creator})
		if err != nil {
			return err
		}
		draft, err := tx.CreateDraftVersion(ctx, NewVersion{
			NodeID:          root.ID,
			Language:        out.Language.Tag,
			ReleaseID:       out.Release.ID,
			SchemaVersionID: out.Folder.ID,
			Editor:          opts.Creator,
		})
		if err != nil {
			return err
		}
		if err := tx.SetStringField(ctx, draft, FieldName, opts.RootName); err != nil {
			return err
		}
		out.Root = root
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed content: %w", err)
	}
	return out, nil
}

func (s *Store) ensureSchema(ctx context.Context, name string, fields []FieldSchema) (*SchemaVersion, error) {
	sc, err := s.SchemaByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return s.CreateSchema(ctx, name, FieldName, fields)
	}
	if err != nil {
		return nil, err
	}
	return s.LatestSchemaVersion(ctx, sc.ID)
}
