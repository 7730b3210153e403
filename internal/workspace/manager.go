// Package workspace manages the on-disk project directories tasks work in.
// It owns file materialization, purge, and the snapshot a conductor feeds to
// its decision engine.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"podium/internal/logging"
)

// snapshotTruncateAt bounds how much of each text file a snapshot carries.
const snapshotTruncateAt = 3000

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// textExtensions are the file types whose content is inlined in snapshots.
var textExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".rs": true, ".java": true, ".rb": true, ".sh": true,
	".html": true, ".css": true, ".json": true, ".yaml": true, ".yml": true,
	".md": true, ".txt": true, ".toml": true, ".sql": true, ".xml": true,
	".csv": true, ".env": true, ".cfg": true, ".ini": true,
}

// FileSnapshot is one file's view inside a workspace snapshot.
type FileSnapshot struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Content   string `json:"content,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Snapshot is the point-in-time view of a workspace.
type Snapshot struct {
	Files []FileSnapshot `json:"files"`
}

// Paths returns the relative path of every file in the snapshot.
func (s *Snapshot) Paths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	return paths
}

// Contains reports whether a relative path exists in the snapshot.
func (s *Snapshot) Contains(path string) bool {
	for _, f := range s.Files {
		if f.Path == path {
			return true
		}
	}
	return false
}

type cacheKey struct {
	path    string
	modTime int64
	size    int64
}

// Manager roots all workspaces under one directory. Snapshot content reads
// are cached per (path, mtime, size) so unchanged files are not re-read on
// every iteration.
type Manager struct {
	root   string
	logger logging.Logger
	cache  *lru.Cache[cacheKey, string]
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(root string, logger logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	cache, err := lru.New[cacheKey, string](512)
	if err != nil {
		return nil, err
	}
	return &Manager{
		root:   root,
		logger: logging.OrNop(logger),
		cache:  cache,
	}, nil
}

// Path returns the absolute directory of a workspace.
func (m *Manager) Path(name string) (string, error) {
	if !nameRe.MatchString(name) {
		return "", fmt.Errorf("invalid workspace name %q", name)
	}
	return filepath.Join(m.root, name), nil
}

// Create makes a new empty workspace.
func (m *Manager) Create(name string) error {
	dir, err := m.Path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("workspace %s already exists", name)
	}
	return os.MkdirAll(dir, 0o755)
}

// Exists reports whether a workspace directory is present.
func (m *Manager) Exists(name string) bool {
	dir, err := m.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// EnsureExists creates the workspace if it is missing.
func (m *Manager) EnsureExists(name string) error {
	dir, err := m.Path(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// List returns all workspace names, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace root: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a workspace and everything in it.
func (m *Manager) Delete(name string) error {
	dir, err := m.Path(name)
	if err != nil {
		return err
	}
	if !m.Exists(name) {
		return fmt.Errorf("workspace %s not found", name)
	}
	return os.RemoveAll(dir)
}

// resolve maps a workspace-relative path to an absolute one, rejecting
// escapes above the workspace directory.
func (m *Manager) resolve(name, relPath string) (string, error) {
	dir, err := m.Path(name)
	if err != nil {
		return "", err
	}
	cleaned := filepath.Clean(relPath)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid file path %q", relPath)
	}
	return filepath.Join(dir, cleaned), nil
}

// WriteFile materializes content at a workspace-relative path, creating
// parent directories as needed.
func (m *Manager) WriteFile(name, relPath, content string) error {
	abs, err := m.resolve(name, relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dirs for %s: %w", relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// ReadFile returns the full content of a workspace file.
func (m *Manager) ReadFile(name, relPath string) (string, error) {
	abs, err := m.resolve(name, relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RemoveFile deletes one workspace file and prunes now-empty parent
// directories up to the workspace root.
func (m *Manager) RemoveFile(name, relPath string) error {
	abs, err := m.resolve(name, relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", relPath, err)
	}
	m.pruneEmptyParents(name, filepath.Dir(abs))
	return nil
}

// PurgeFiles removes a set of workspace files, returning the paths actually
// deleted. Missing files are skipped, not errors.
func (m *Manager) PurgeFiles(name string, relPaths []string) []string {
	var removed []string
	for _, relPath := range relPaths {
		abs, err := m.resolve(name, relPath)
		if err != nil {
			m.logger.Warn("skipping purge of %s: %v", relPath, err)
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := os.Remove(abs); err != nil {
			m.logger.Warn("failed to purge %s: %v", relPath, err)
			continue
		}
		removed = append(removed, relPath)
		m.pruneEmptyParents(name, filepath.Dir(abs))
	}
	return removed
}

func (m *Manager) pruneEmptyParents(name, dir string) {
	root, err := m.Path(name)
	if err != nil {
		return
	}
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Files lists every file in a workspace as relative paths, sorted.
func (m *Manager) Files(name string) ([]string, error) {
	dir, err := m.Path(name)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace %s not found", name)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Take builds a snapshot of the workspace: the full file list plus the
// truncated content of text-like files.
func (m *Manager) Take(name string) (*Snapshot, error) {
	dir, err := m.Path(name)
	if err != nil {
		return nil, err
	}
	paths, err := m.Files(name)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Files: make([]FileSnapshot, 0, len(paths))}
	for _, rel := range paths {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		fs := FileSnapshot{Path: rel, Size: info.Size()}
		if textExtensions[strings.ToLower(filepath.Ext(rel))] {
			content, truncated := m.readTruncated(abs, info.ModTime().UnixNano(), info.Size())
			fs.Content = content
			fs.Truncated = truncated
		}
		snap.Files = append(snap.Files, fs)
	}
	return snap, nil
}

func (m *Manager) readTruncated(abs string, modTime, size int64) (string, bool) {
	key := cacheKey{path: abs, modTime: modTime, size: size}
	if content, ok := m.cache.Get(key); ok {
		return content, size > snapshotTruncateAt
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		m.logger.Warn("snapshot read failed for %s: %v", abs, err)
		return "", false
	}
	content := string(data)
	truncated := false
	if len(content) > snapshotTruncateAt {
		content = content[:snapshotTruncateAt]
		truncated = true
	}
	m.cache.Add(key, content)
	return content, truncated
}
