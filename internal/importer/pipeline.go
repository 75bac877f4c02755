// Package importer mirrors an archive into the content graph as an
// asynchronous job: extract, create or reuse nodes, then populate them.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/mattjoyce/csdb/internal/archive"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/log"
	"github.com/mattjoyce/csdb/internal/metrics"
	"github.com/mattjoyce/csdb/internal/populator"
	"github.com/mattjoyce/csdb/internal/workspace"
)

// Request is one archive import.
type Request struct {
	User     string
	Language string
	// Release is the release id the nodes and drafts belong to.
	Release string
	// Root is the node the archive is mirrored under. Empty means the
	// release's first root node.
	Root        string
	ArchivePath string
	Selector    Selector
}

type Options struct {
	Store      *content.Store
	Registry   *populator.Registry
	Workspaces workspace.Manager
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Importer runs archive imports. It holds no per-import state and can serve
// several jobs at once.
type Importer struct {
	store      *content.Store
	registry   *populator.Registry
	workspaces workspace.Manager
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(opts Options) *Importer {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("importer")
	}
	return &Importer{
		store:      opts.Store,
		registry:   opts.Registry,
		workspaces: opts.Workspaces,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// entry is one row of the Phase 2 result table.
type entry struct {
	path      string
	relPath   string
	populator populator.Populator
	node      *content.Node
	version   *content.Version
}

// resultTable keeps Phase 2 insertion order for Phase 3.
type resultTable struct {
	order []*entry
	index map[string]*entry
}

func newResultTable() *resultTable {
	return &resultTable{index: make(map[string]*entry)}
}

func (t *resultTable) add(e *entry) {
	t.order = append(t.order, e)
	t.index[e.relPath] = e
}

// run is the state of one ImportArchive call.
type run struct {
	req     Request
	h       *job.Handler
	logger  *slog.Logger
	schemas map[string]*content.SchemaVersion
	// drafts maps node id to the draft created in this run, so a node reached
	// by two paths gets a single draft.
	drafts  map[string]*content.Version
	results *resultTable
}

// ImportArchive mirrors the archive at req.ArchivePath under req.Root and
// reports through h. It returns once the job is COMPLETED or FAILED; every
// failure is recorded with h.Fail before it is returned.
func (im *Importer) ImportArchive(ctx context.Context, req Request, h *job.Handler) error {
	r := &run{
		req:     req,
		h:       h,
		logger:  im.logger.With("job_id", h.JobID(), "archive", req.ArchivePath),
		schemas: make(map[string]*content.SchemaVersion),
		drafts:  make(map[string]*content.Version),
		results: newResultTable(),
	}

	// Phase 0: validate and start.
	if err := im.validate(ctx, r); err != nil {
		return im.fail(ctx, r, err, false)
	}
	h.SetStatus(job.StatusRunning)
	if err := h.Commit(ctx); err != nil {
		return im.fail(ctx, r, err, false)
	}
	r.logger.Info("import started", "release", req.Release, "root", r.req.Root, "language", req.Language)

	ws, err := im.workspaces.Create(ctx, h.JobID())
	if err != nil {
		return im.fail(ctx, r, &PathError{Op: "create workspace", Path: h.JobID(), Err: err}, false)
	}

	// Phase 1: extraction.
	if err := im.extract(ctx, r, ws.Dir); err != nil {
		return im.fail(ctx, r, err, true)
	}
	r.logger.Info("archive extracted", "completion_count", h.State().CompletionCount)

	// Phase 2: tree mirroring.
	if err := im.mirror(ctx, r, ws.Dir, "", r.req.Root); err != nil {
		return im.fail(ctx, r, err, true)
	}
	if err := h.Commit(ctx); err != nil {
		return im.fail(ctx, r, err, true)
	}
	r.logger.Info("tree mirrored", "nodes", len(r.results.order))

	// Phase 3: content population.
	if err := im.populate(ctx, r); err != nil {
		return im.fail(ctx, r, err, true)
	}
	r.logger.Info("content populated", "nodes", len(r.results.order))

	// Phase 4: cleanup.
	im.removeWorkspace(ctx, r)
	if err := h.Done(ctx); err != nil {
		return im.fail(ctx, r, err, false)
	}
	return nil
}

func (im *Importer) validate(ctx context.Context, r *run) error {
	req := &r.req
	if req.ArchivePath == "" {
		return fmt.Errorf("%w: no archive path given", ErrArchiveNotFound)
	}
	info, err := os.Stat(req.ArchivePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, req.ArchivePath)
	}
	if err != nil {
		return &PathError{Op: "stat", Path: req.ArchivePath, Err: err}
	}
	if info.IsDir() {
		return &PathError{Op: "stat", Path: req.ArchivePath, Err: errors.New("archive is a directory")}
	}
	if _, err := archive.DetectFormat(req.ArchivePath); err != nil {
		return &PathError{Op: "detect format", Path: req.ArchivePath, Err: err}
	}
	if req.Selector == nil {
		return errors.New("no schema selector")
	}

	if _, err := im.store.Language(ctx, req.Language); err != nil {
		return err
	}
	if _, err := im.store.Release(ctx, req.Release); err != nil {
		return err
	}
	if req.Root == "" {
		roots, err := im.store.Roots(ctx, req.Release)
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			return fmt.Errorf("root of release %q: %w", req.Release, content.ErrNotFound)
		}
		req.Root = roots[0].ID
	}
	if _, err := im.store.Node(ctx, req.Root, req.Release); err != nil {
		return err
	}
	return nil
}

func (im *Importer) extract(ctx context.Context, r *run, dest string) error {
	err := archive.Extract(ctx, r.req.ArchivePath, dest, func(e archive.Entry) error {
		im.metrics.FileExtracted()
		r.logger.Debug("extracted", "entry", e.Name, "size", e.Size)
		r.h.IncCompleted()
		return r.h.Checkpoint(ctx)
	})
	if err == nil {
		return nil
	}
	var entryErr *archive.EntryError
	if errors.As(err, &entryErr) {
		return &PathError{Op: "extract", Path: entryErr.Name, Err: entryErr.Err}
	}
	return &PathError{Op: "extract", Path: r.req.ArchivePath, Err: err}
}

// mirror walks dir depth-first in name order, resolving a node for every
// entry under parentID before descending into it.
func (im *Importer) mirror(ctx context.Context, r *run, dir, relDir, parentID string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &PathError{Op: "read dir", Path: relDir, Err: err}
	}

	for _, de := range entries {
		full := filepath.Join(dir, de.Name())
		rel := path.Join(relDir, de.Name())
		isDir := de.IsDir()
		if !isDir && !de.Type().IsRegular() {
			continue
		}

		e, err := im.mirrorEntry(ctx, r, full, rel, isDir, parentID)
		if err != nil {
			return err
		}
		r.results.add(e)

		if isDir {
			if err := im.mirror(ctx, r, full, rel, e.node.ID); err != nil {
				return err
			}
		}

		r.h.IncCompleted()
		if err := r.h.Checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) mirrorEntry(ctx context.Context, r *run, full, rel string, isDir bool, parentID string) (*entry, error) {
	schemaName, err := r.req.Selector.SelectSchema(rel, isDir)
	if err != nil {
		return nil, fmt.Errorf("select schema for %s: %w", rel, err)
	}
	sv, err := im.schemaVersion(ctx, r, schemaName)
	if err != nil {
		return nil, err
	}

	p, err := im.registry.Select(full)
	if err != nil {
		return nil, err
	}
	name := p.ParseNodeName(full)

	e := &entry{path: full, relPath: rel, populator: p}
	err = im.store.WithTransaction(ctx, func(ctx context.Context, tx *content.Store) error {
		node, reused, err := findOrCreate(ctx, tx, r, parentID, name, sv)
		if err != nil {
			return err
		}
		e.node = node

		if v, ok := r.drafts[node.ID]; ok {
			e.version = v
			return nil
		}
		v, err := tx.CreateDraftVersion(ctx, content.NewVersion{
			NodeID:          node.ID,
			Language:        r.req.Language,
			ReleaseID:       r.req.Release,
			SchemaVersionID: sv.ID,
			Editor:          r.req.User,
		})
		if err != nil {
			return err
		}
		if err := populator.PopulateDisplayName(ctx, tx, name, v); err != nil {
			return err
		}
		e.version = v

		if reused {
			im.metrics.NodeReused()
		} else {
			im.metrics.NodeCreated()
		}
		r.logger.Debug("node mirrored", "path", rel, "node_id", node.ID, "reused", reused,
			"populator", p.Name(), "schema", sv.SchemaName)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mirror %s: %w", rel, err)
	}
	r.drafts[e.node.ID] = e.version
	return e, nil
}

// findOrCreate reuses the child of parentID whose draft display value equals
// name, ignoring case, when it has the same schema. Otherwise it creates one.
func findOrCreate(ctx context.Context, tx *content.Store, r *run, parentID, name string, sv *content.SchemaVersion) (*content.Node, bool, error) {
	found, err := tx.FindChild(ctx, parentID, r.req.Release, r.req.Language, name, sv.SchemaID)
	if err == nil {
		return found, true, nil
	}
	if !errors.Is(err, content.ErrNotFound) {
		return nil, false, err
	}
	node, err := tx.CreateNode(ctx, content.NewNode{
		ParentID:  parentID,
		ReleaseID: r.req.Release,
		SchemaID:  sv.SchemaID,
		Creator:   r.req.User,
	})
	if err != nil {
		return nil, false, err
	}
	return node, false, nil
}

func (im *Importer) schemaVersion(ctx context.Context, r *run, name string) (*content.SchemaVersion, error) {
	if sv, ok := r.schemas[name]; ok {
		return sv, nil
	}
	sc, err := im.store.SchemaByName(ctx, name)
	if err != nil {
		return nil, err
	}
	sv, err := im.store.LatestSchemaVersion(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	r.schemas[name] = sv
	return sv, nil
}

func (im *Importer) populate(ctx context.Context, r *run) error {
	for _, e := range r.results.order {
		if err := e.populator.PopulateContent(ctx, e.path, e.version); err != nil {
			return &PopulateError{NodeID: e.node.ID, Path: e.relPath, Populator: e.populator.Name(), Err: err}
		}
		im.metrics.NodePopulated()
		r.h.IncCompleted()
		if err := r.h.Checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) removeWorkspace(ctx context.Context, r *run) {
	if err := im.workspaces.Remove(ctx, r.h.JobID()); err != nil {
		r.logger.Warn("failed to remove workspace", "error", err)
	}
}

func (im *Importer) fail(ctx context.Context, r *run, cause error, cleanup bool) error {
	// A cancelled import still records its failure.
	ctx = context.WithoutCancel(ctx)
	if cleanup {
		im.removeWorkspace(ctx, r)
	}
	if r.h.Terminal() {
		return cause
	}
	if err := r.h.Fail(ctx, cause, MessageKey(cause)); err != nil {
		r.logger.Error("failed to record import failure", "error", err, "cause", cause)
	}
	return cause
}
