package content

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// FieldType is the declared type of a schema field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldXML    FieldType = "xml"
	FieldBinary FieldType = "binary"
)

// FieldSchema declares one field of a schema version.
type FieldSchema struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema is the container all versions of one structural definition hang off.
type Schema struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// SchemaVersion is an immutable set of field declarations.
type SchemaVersion struct {
	ID           string
	SchemaID     string
	SchemaName   string
	Version      int
	DisplayField string
	Fields       []FieldSchema
	CreatedAt    time.Time
}

// Field looks up a declared field by name.
func (sv *SchemaVersion) Field(name string) (FieldSchema, bool) {
	for _, f := range sv.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// HasField reports whether name is declared with type t.
func (sv *SchemaVersion) HasField(name string, t FieldType) bool {
	f, ok := sv.Field(name)
	return ok && f.Type == t
}

type Language struct {
	Tag  string
	Name string
}

type Release struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Node is a tree entity; its parent is recorded per release.
type Node struct {
	ID        string
	SchemaID  string
	ParentID  string
	ReleaseID string
	Creator   string
	CreatedAt time.Time
}

// State is the lifecycle state of a node version.
type State string

const (
	StateDraft     State = "draft"
	StatePublished State = "published"
)

// Version is a content snapshot of a node for one (language, release, state).
// Fields holds the string-typed values; xml and binary fields live on BinaryField edges.
type Version struct {
	ID           string
	NodeID       string
	Language     string
	ReleaseID    string
	State        State
	Schema       *SchemaVersion
	DisplayValue string
	Fields       map[string]string
	PreviousID   string
	Latest       bool
	Editor       string
	CreatedAt    time.Time
}

// Binary is a content entity whose bytes are held in the blob store under ID.
type Binary struct {
	ID            string
	Kind          string
	Size          int64
	Checksum      string
	SchemaName    string
	SchemaVariant string
	CreatedAt     time.Time
}

const BinaryKindXML = "xml"

// BinaryField is the edge from a version's field to a binary content entity.
type BinaryField struct {
	VersionID string
	Field     string
	BinaryID  string
	Filename  string
}
