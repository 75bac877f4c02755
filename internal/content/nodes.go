package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewNode describes a node to create. An empty ParentID creates a root.
type NewNode struct {
	ParentID  string
	ReleaseID string
	SchemaID  string
	Creator   string
}

// CreateNode inserts a node and its parent edge in the given release.
func (s *Store) CreateNode(ctx context.Context, in NewNode) (*Node, error) {
	if in.ReleaseID == "" || in.SchemaID == "" {
		return nil, fmt.Errorf("node requires a release and a schema")
	}

	n := &Node{
		ID:        uuid.NewString(),
		SchemaID:  in.SchemaID,
		ParentID:  in.ParentID,
		ReleaseID: in.ReleaseID,
		Creator:   in.Creator,
	}
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *Store) error {
		now := tx.timestamp()
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO nodes(id, schema_id, creator, created_at) VALUES(?, ?, ?, ?);`,
			n.ID, n.SchemaID, n.Creator, now,
		); err != nil {
			return fmt.Errorf("insert node: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO node_parents(node_id, release_id, parent_id) VALUES(?, ?, ?);`,
			n.ID, n.ReleaseID, nullString(n.ParentID),
		); err != nil {
			return fmt.Errorf("insert parent edge: %w", err)
		}
		n.CreatedAt = parseTime(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Node returns a node with its parent in the given release.
func (s *Store) Node(ctx context.Context, id, releaseID string) (*Node, error) {
	var n Node
	var parent sql.NullString
	var created string
	err := s.q.QueryRowContext(ctx, `
SELECT n.id, n.schema_id, n.creator, n.created_at, p.parent_id, p.release_id
FROM nodes n JOIN node_parents p ON p.node_id = n.id
WHERE n.id = ? AND p.release_id = ?;`, id, releaseID,
	).Scan(&n.ID, &n.SchemaID, &n.Creator, &created, &parent, &n.ReleaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %q in release %q: %w", id, releaseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %q: %w", id, err)
	}
	n.ParentID = parent.String
	n.CreatedAt = parseTime(created)
	return &n, nil
}

// Child is a child node together with its latest draft display value.
type Child struct {
	Node         *Node
	DisplayValue string
}

// Children lists the children of parentID in a release, oldest first, with the
// display value of each child's latest draft in language.
func (s *Store) Children(ctx context.Context, parentID, releaseID, language string) ([]Child, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT n.id, n.schema_id, n.creator, n.created_at, COALESCE(v.display_value, '')
FROM node_parents p
JOIN nodes n ON n.id = p.node_id
LEFT JOIN node_versions v
  ON v.node_id = n.id AND v.release_id = p.release_id AND v.language = ?
 AND v.state = 'draft' AND v.latest = 1
WHERE p.parent_id = ? AND p.release_id = ?
ORDER BY n.rowid ASC;`, language, parentID, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list children of %q: %w", parentID, err)
	}
	defer rows.Close()

	var out []Child
	for rows.Next() {
		n := &Node{ParentID: parentID, ReleaseID: releaseID}
		var created, display string
		if err := rows.Scan(&n.ID, &n.SchemaID, &n.Creator, &created, &display); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, Child{Node: n, DisplayValue: display})
	}
	return out, rows.Err()
}

// FindChild returns the first child whose draft display value equals name,
// ignoring case. A non-empty schemaID also has to match the child's schema.
// It returns ErrNotFound when none matches.
func (s *Store) FindChild(ctx context.Context, parentID, releaseID, language, name, schemaID string) (*Node, error) {
	children, err := s.Children(ctx, parentID, releaseID, language)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if strings.EqualFold(c.DisplayValue, name) && (schemaID == "" || c.Node.SchemaID == schemaID) {
			return c.Node, nil
		}
	}
	return nil, fmt.Errorf("child %q of %q: %w", name, parentID, ErrNotFound)
}

// TreeEntry is one line of a rendered subtree.
type TreeEntry struct {
	Depth        int
	Node         *Node
	DisplayValue string
}

// Tree walks the subtree under rootID depth-first.
func (s *Store) Tree(ctx context.Context, rootID, releaseID, language string) ([]TreeEntry, error) {
	var out []TreeEntry
	var walk func(parentID string, depth int) error
	walk = func(parentID string, depth int) error {
		children, err := s.Children(ctx, parentID, releaseID, language)
		if err != nil {
			return err
		}
		for _, c := range children {
			out = append(out, TreeEntry{Depth: depth, Node: c.Node, DisplayValue: c.DisplayValue})
			if err := walk(c.Node.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootID, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Roots lists the parentless nodes of a release, oldest first.
func (s *Store) Roots(ctx context.Context, releaseID string) ([]*Node, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT n.id, n.schema_id, n.creator, n.created_at
FROM node_parents p JOIN nodes n ON n.id = p.node_id
WHERE p.parent_id IS NULL AND p.release_id = ?
ORDER BY n.rowid ASC;`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list roots of release %q: %w", releaseID, err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n := &Node{ReleaseID: releaseID}
		var created string
		if err := rows.Scan(&n.ID, &n.SchemaID, &n.Creator, &created); err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
