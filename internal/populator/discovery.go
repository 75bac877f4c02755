package populator

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/log"
)

// Discover walks each dir for populator.yaml manifests and builds a pattern
// populator per valid manifest. Invalid manifests are logged and skipped;
// a name seen twice keeps the first one discovered. Dirs are walked in order.
func Discover(dirs []string, deps Deps, logger *slog.Logger) ([]Populator, error) {
	if logger == nil {
		logger = log.Get()
	}

	roots := make([]string, 0, len(dirs))
	seenRoots := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve populator dir %q: %w", dir, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("populator dir does not exist: %s", abs)
			}
			return nil, fmt.Errorf("failed to stat populator dir %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("populator dir is not a directory: %s", abs)
		}
		if _, ok := seenRoots[abs]; ok {
			continue
		}
		seenRoots[abs] = struct{}{}
		roots = append(roots, abs)
	}

	var found []Populator
	kept := make(map[string]string)
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != ManifestFilename {
				return nil
			}

			m, err := loadManifest(path)
			if err != nil {
				logger.Warn("failed to load populator manifest", "root", root, "path", path, "error", err)
				return nil
			}
			if keptPath, dup := kept[m.Name]; dup {
				logger.Warn("duplicate populator ignored (keeping first discovered)",
					"populator", m.Name, "ignored_path", path, "kept_path", keptPath)
				return nil
			}
			p, err := NewPattern(m.spec(), deps)
			if err != nil {
				logger.Warn("failed to build populator", "path", path, "error", err)
				return nil
			}

			kept[m.Name] = path
			found = append(found, p)
			logger.Info("loaded populator", "populator", m.Name, "priority", p.Priority(), "path", path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan populator dir %s: %w", root, err)
		}
	}
	return found, nil
}

// Builtins returns the catch-all, XML and data-module populators.
func Builtins(deps Deps) []Populator {
	return []Populator{NewDefault(deps), NewXML(deps), NewDataModule(deps)}
}

// Load builds the process registry from the built-ins plus any manifests
// found in cfg.ManifestDirs, minus cfg.Disabled. A manifest reusing a
// built-in name fails the load.
func Load(cfg config.PopulatorsConfig, deps Deps, logger *slog.Logger) (*Registry, error) {
	all := Builtins(deps)
	if len(cfg.ManifestDirs) > 0 {
		discovered, err := Discover(cfg.ManifestDirs, deps, logger)
		if err != nil {
			return nil, err
		}
		all = append(all, discovered...)
	}

	known := make(map[string]bool, len(all))
	for _, p := range all {
		known[p.Name()] = true
	}
	for _, name := range cfg.Disabled {
		if name == DefaultName {
			return nil, fmt.Errorf("populator %q cannot be disabled", DefaultName)
		}
		if !known[name] {
			return nil, fmt.Errorf("cannot disable unknown populator %q", name)
		}
	}

	enabled := slices.DeleteFunc(all, func(p Populator) bool {
		return slices.Contains(cfg.Disabled, p.Name())
	})
	return NewRegistry(enabled...)
}
