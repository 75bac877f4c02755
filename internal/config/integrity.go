package config

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFilename is the integrity manifest written next to config.yaml.
const ChecksumFilename = ".checksums"

// ChecksumManifest records BLAKE3 hashes of the files that shape a server's
// behavior: the config itself and every populator manifest it loads.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// IntegrityResult collects the outcome of VerifyIntegrity. Errors fail the
// check; warnings are reported only.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

func (r *IntegrityResult) fail(format string, args ...any) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ScopeFiles lists the files covered by the integrity manifest: configPath
// plus every populator.yaml under cfg's manifest dirs, sorted.
func ScopeFiles(configPath string, cfg *Config) ([]string, error) {
	files := []string{configPath}
	for _, dir := range cfg.Populators.ManifestDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && d.Name() == "populator.yaml" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan populator dir %s: %w", dir, err)
		}
	}
	sort.Strings(files[1:])
	return files, nil
}

// Lock hashes the scope files and writes the checksum manifest next to
// configPath.
func Lock(configPath string, cfg *Config) (*ChecksumManifest, error) {
	files, err := ScopeFiles(configPath, cfg)
	if err != nil {
		return nil, err
	}

	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	configDir := filepath.Dir(configPath)
	for _, path := range files {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		manifest.Hashes[manifestKey(configDir, path)] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, ChecksumFilename), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads the checksum manifest from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFilename))
	if err != nil {
		return nil, err
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyIntegrity checks the scope files against the checksum manifest.
// A missing manifest or an unlisted file is a warning; a changed or vanished
// file is an error.
func VerifyIntegrity(configPath string, cfg *Config) (*IntegrityResult, error) {
	result := &IntegrityResult{Passed: true}
	configDir := filepath.Dir(configPath)

	manifest, err := LoadChecksums(configDir)
	if os.IsNotExist(err) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no %s manifest in %s; run 'csdb config lock' to enable integrity verification", ChecksumFilename, configDir))
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	files, err := ScopeFiles(configPath, cfg)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(files))
	for _, path := range files {
		key := manifestKey(configDir, path)
		seen[key] = true

		expected, ok := manifest.Hashes[key]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("file %s not in %s", key, ChecksumFilename))
			continue
		}
		actual, err := ComputeBlake3Hash(path)
		if err != nil {
			result.fail("failed to hash %s: %v", key, err)
			continue
		}
		if actual != expected {
			result.fail("hash mismatch for %s (expected %s, got %s)", key, expected, actual)
		}
	}

	for key := range manifest.Hashes {
		if !seen[key] {
			result.fail("file %s is in %s but missing from disk", key, ChecksumFilename)
		}
	}
	sort.Strings(result.Errors)
	return result, nil
}

func manifestKey(configDir, path string) string {
	if rel, err := filepath.Rel(configDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
