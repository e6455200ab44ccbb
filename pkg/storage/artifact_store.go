package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ArtifactStore manages the shared zip-artifact root directory. All writes go
// through temp files and atomic renames so a partial zip is never visible at a
// servable name.
type ArtifactStore struct {
	root string
}

// RemoveResult distinguishes "file deleted" from "file was already gone".
// Hard I/O failures are reported via the error return instead.
type RemoveResult struct {
	Removed bool
	Missing bool
}

// NewArtifactStore ensures the shared root exists and returns a handle.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &ArtifactStore{root: abs}, nil
}

// Root returns the absolute shared root path.
func (s *ArtifactStore) Root() string {
	return s.root
}

// IsSafeZipName reports whether the value is a plain file name with no path
// separators or traversal components.
func IsSafeZipName(value string) bool {
	name := strings.TrimSpace(value)
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return true
}

// ResolveZipPath maps a zip name to its absolute path inside the shared root.
func (s *ArtifactStore) ResolveZipPath(zipName string) (string, error) {
	if !IsSafeZipName(zipName) {
		return "", fmt.Errorf("invalid zip name %q", zipName)
	}
	return filepath.Join(s.root, strings.TrimSpace(zipName)), nil
}

// ResolveWithinRoot resolves an untrusted relative path under a trusted root,
// rejecting absolute inputs and traversal escapes.
func ResolveWithinRoot(root, untrusted string) (string, error) {
	rootRaw := strings.TrimSpace(root)
	raw := strings.TrimSpace(untrusted)
	if rootRaw == "" || raw == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(raw, '\x00') {
		return "", fmt.Errorf("invalid path")
	}

	cleaned := strings.TrimLeft(strings.ReplaceAll(raw, "\\", "/"), "/")
	if cleaned == "" {
		return "", fmt.Errorf("empty path")
	}

	rootAbs, err := filepath.Abs(rootRaw)
	if err != nil {
		return "", err
	}
	full := filepath.Join(rootAbs, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(rootAbs, full)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root")
	}
	return full, nil
}

// TempPath returns a unique sibling path for staging writes next to the final
// name, so the eventual rename stays on one filesystem.
func (s *ArtifactStore) TempPath(finalPath, label string) string {
	return fmt.Sprintf("%s.tmp-%s-%d-%d", finalPath, label, os.Getpid(), time.Now().UnixNano())
}

// Publish atomically moves a fully written temp file over the final name,
// clearing any stale file first.
func (s *ArtifactStore) Publish(tempPath, finalPath string) error {
	if err := os.Remove(finalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale artifact: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// PromoteFile brings a zip built elsewhere (e.g. a per-user build) into the
// shared root under the given name. It hardlinks when possible, copies when
// the link fails for a recoverable reason, and always finishes with an atomic
// rename.
func (s *ArtifactStore) PromoteFile(sourcePath, zipName string) (string, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return "", fmt.Errorf("source path is required")
	}
	target, err := s.ResolveZipPath(zipName)
	if err != nil {
		return "", err
	}

	temp := s.TempPath(target, "promote")
	if err := linkOrCopy(sourcePath, temp); err != nil {
		_ = os.Remove(temp)
		return "", err
	}
	if err := s.Publish(temp, target); err != nil {
		_ = os.Remove(temp)
		return "", err
	}
	return target, nil
}

// Remove deletes the backing file for a zip name. Missing files are not an
// error; anything else is a hard failure the caller must keep the row for.
func (s *ArtifactStore) Remove(zipName string) (RemoveResult, error) {
	path, err := s.ResolveZipPath(zipName)
	if err != nil {
		return RemoveResult{Missing: true}, nil
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return RemoveResult{Missing: true}, nil
		}
		return RemoveResult{}, fmt.Errorf("remove artifact %s: %w", zipName, err)
	}
	return RemoveResult{Removed: true}, nil
}

// FileExists reports whether the backing file is present on disk.
func (s *ArtifactStore) FileExists(zipName string) bool {
	path, err := s.ResolveZipPath(zipName)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FileSize returns the on-disk size of a published artifact.
func (s *ArtifactStore) FileSize(zipName string) (int64, error) {
	path, err := s.ResolveZipPath(zipName)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat artifact %s: %w", zipName, err)
	}
	return info.Size(), nil
}

// CapacityBytes reports the total capacity of the filesystem hosting the
// shared root. The disk budget is a configured fraction of this value.
func (s *ArtifactStore) CapacityBytes() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		return 0, fmt.Errorf("statfs artifact root: %w", err)
	}
	return uint64(stat.Bsize) * stat.Blocks, nil
}

func linkOrCopy(sourcePath, targetPath string) error {
	err := os.Link(sourcePath, targetPath)
	if err == nil {
		return nil
	}
	if !recoverableLinkError(err) {
		return fmt.Errorf("link artifact: %w", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open source zip: %w", err)
	}
	defer src.Close() //nolint:errcheck

	dst, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create target zip: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy zip: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("flush target zip: %w", err)
	}
	return nil
}

// Cross-device, existing-target, permission, and link-count failures all fall
// back to a byte copy; anything else aborts the promotion.
func recoverableLinkError(err error) bool {
	if os.IsExist(err) || os.IsPermission(err) {
		return true
	}
	return errors.Is(err, unix.EXDEV) || errors.Is(err, unix.EMLINK)
}
