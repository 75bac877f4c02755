package populator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/csdb/internal/blob"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/storage"
)

type recordingWriter struct {
	calls int
}

func (w *recordingWriter) SetStringField(_ context.Context, v *content.Version, field, value string) error {
	w.calls++
	v.Fields[field] = value
	v.DisplayValue = value
	return nil
}

func TestPopulateDisplayNameWritesOnlyOnChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := &content.Version{
		Schema: &content.SchemaVersion{DisplayField: "name"},
		Fields: map[string]string{},
	}
	w := &recordingWriter{}

	require.NoError(t, PopulateDisplayName(ctx, w, "report.xml", v))
	require.NoError(t, PopulateDisplayName(ctx, w, "report.xml", v))
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, "report.xml", v.DisplayValue)

	require.NoError(t, PopulateDisplayName(ctx, w, "renamed.xml", v))
	assert.Equal(t, 2, w.calls)

	noDisplay := &content.Version{Schema: &content.SchemaVersion{}, Fields: map[string]string{}}
	require.NoError(t, PopulateDisplayName(ctx, w, "x", noDisplay))
	assert.Equal(t, 2, w.calls)
}

type fixture struct {
	store  *content.Store
	blobs  *blob.MemoryStore
	seeded *content.Seeded
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	blobs := blob.NewMemoryStore()
	store := content.New(db, blobs)
	seeded, err := store.Seed(ctx, content.SeedOptions{Creator: "tester"})
	require.NoError(t, err)
	return &fixture{
		store:  store,
		blobs:  blobs,
		seeded: seeded,
		deps:   Deps{Store: store, SchemaName: "descript.xsd", SchemaVariant: "S1000D_4-2"},
	}
}

func (f *fixture) draft(t *testing.T, sv *content.SchemaVersion) *content.Version {
	t.Helper()
	ctx := context.Background()
	node, err := f.store.CreateNode(ctx, content.NewNode{
		ParentID: f.seeded.Root.ID, ReleaseID: f.seeded.Release.ID, SchemaID: sv.SchemaID,
	})
	require.NoError(t, err)
	v, err := f.store.CreateDraftVersion(ctx, content.NewVersion{
		NodeID: node.ID, Language: "en", ReleaseID: f.seeded.Release.ID, SchemaVersionID: sv.ID,
	})
	require.NoError(t, err)
	return v
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDataModulePopulatesNameAndContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	body := "<dmodule><content/></dmodule>"
	path := writeFile(t, "DMC-S1000DBIKE-AAA-D00-00-00-00AA-041A-A_001-00_EN-US.XML", body)
	v := f.draft(t, f.seeded.XML)

	p := NewDataModule(f.deps)
	require.NoError(t, p.PopulateContent(ctx, path, v))

	assert.Equal(t, "DMC-S1000DBIKE-AAA-D00-00-00-00AA-041A-A.XML", v.DisplayValue)

	edge, err := f.store.BinaryField(ctx, v.ID, content.FieldContent)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(path), edge.Filename)

	bin, err := f.store.Binary(ctx, edge.BinaryID)
	require.NoError(t, err)
	wantSum, wantSize, err := content.ChecksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, wantSum, bin.Checksum)
	assert.Equal(t, wantSize, bin.Size)
	assert.Equal(t, "descript.xsd", bin.SchemaName)
	assert.Equal(t, "S1000D_4-2", bin.SchemaVariant)

	rc, err := f.store.OpenBinary(ctx, bin.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestPopulateXMLFieldReplacesEdge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.draft(t, f.seeded.XML)

	first := writeFile(t, "a.xml", "<a/>")
	second := writeFile(t, "b.xml", "<b/>")
	require.NoError(t, PopulateXMLField(ctx, f.deps, first, v, content.FieldContent))
	before, err := f.store.BinaryField(ctx, v.ID, content.FieldContent)
	require.NoError(t, err)

	require.NoError(t, PopulateXMLField(ctx, f.deps, second, v, content.FieldContent))
	after, err := f.store.BinaryField(ctx, v.ID, content.FieldContent)
	require.NoError(t, err)

	assert.NotEqual(t, before.BinaryID, after.BinaryID)
	assert.Equal(t, "b.xml", after.Filename)
	assert.Equal(t, 2, f.blobs.Len())
}

func TestPopulateXMLFieldSkipsSchemaWithoutXMLField(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.draft(t, f.seeded.Binary)
	path := writeFile(t, "a.xml", "<a/>")

	require.NoError(t, NewXML(f.deps).PopulateContent(ctx, path, v))

	assert.Equal(t, "a.xml", v.DisplayValue)
	assert.Equal(t, 0, f.blobs.Len())
	_, err := f.store.BinaryField(ctx, v.ID, content.FieldContent)
	assert.ErrorIs(t, err, content.ErrNotFound)
}

func TestDefaultOnlySetsDisplayName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.draft(t, f.seeded.Binary)
	path := writeFile(t, "notes.txt", "hello")

	require.NoError(t, NewDefault(f.deps).PopulateContent(ctx, path, v))
	assert.Equal(t, "notes.txt", v.DisplayValue)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestNewPatternValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec PatternSpec
	}{
		{name: "empty name", spec: PatternSpec{Pattern: `^(a)$`, Template: "%s"}},
		{name: "bad regexp", spec: PatternSpec{Name: "x", Pattern: `^(a$`, Template: "%s"}},
		{name: "no group", spec: PatternSpec{Name: "x", Pattern: `^a$`, Template: "%s"}},
		{name: "no verb", spec: PatternSpec{Name: "x", Pattern: `^(a)$`, Template: "A"}},
		{name: "two verbs", spec: PatternSpec{Name: "x", Pattern: `^(a)$`, Template: "%s-%d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPattern(tt.spec, Deps{})
			assert.Error(t, err)
		})
	}
}

func TestPatternAcceptsConfiguredExtensions(t *testing.T) {
	t.Parallel()
	p, err := NewPattern(PatternSpec{
		Name:       "sgml-chapter",
		Priority:   PriorityBase + 500,
		Pattern:    `^CH(\d+)_.*$`,
		Template:   "Chapter %s",
		Extensions: []string{".SGM"},
	}, Deps{})
	require.NoError(t, err)

	sgm := writeFile(t, "CH07_intro.sgm", "<chapter/>")
	xml := writeFile(t, "CH07_intro.xml", "<chapter/>")
	assert.True(t, p.Accept(sgm, newScratch(sgm)))
	assert.False(t, p.Accept(xml, newScratch(xml)))
	assert.Equal(t, "Chapter 07", p.ParseNodeName(sgm))
	assert.Equal(t, content.FieldContent, p.spec.ContentField)
}
