package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	multiSlash    = regexp.MustCompile(`/{2,}`)
	unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
	multiDash     = regexp.MustCompile(`-{2,}`)
	nonAlnum      = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// NormalizeCatalogFolderPath canonicalizes a catalog folder path: forward
// slashes only, no duplicate slashes, exactly one leading slash, no trailing
// slash. Root is "/". The function is idempotent and does not touch case.
func NormalizeCatalogFolderPath(value string) string {
	raw := strings.ReplaceAll(strings.TrimSpace(value), "\\", "/")
	raw = multiSlash.ReplaceAllString(raw, "/")
	raw = strings.TrimLeft(raw, "/")
	normalized := "/" + raw
	if normalized == "/" {
		return normalized
	}
	return strings.TrimRight(normalized, "/")
}

// StripLeadingSlash returns the normalized path without its leading slash,
// i.e. the path relative to the catalog root. Root yields "".
func StripLeadingSlash(folderPath string) string {
	return strings.TrimLeft(NormalizeCatalogFolderPath(folderPath), "/")
}

// BuildVersionKey derives the content fingerprint for a folder state: a
// sha256 hex digest over the normalized path, total source size, and the
// directory mtime in milliseconds. Callers must recompute it from a fresh
// stat right before use; folders change between lookup and build.
//
// Known limitation: two folder states sharing total size and mtime produce
// the same key. Top-level add/remove/rename bumps the mtime, but an in-place
// edit that keeps the byte count within the same mtime granularity goes
// undetected.
func BuildVersionKey(folderPath string, sourceSizeBytes, dirMtimeMs int64) string {
	if sourceSizeBytes < 0 {
		sourceSizeBytes = 0
	}
	fingerprint := fmt.Sprintf("%s|%d|%d", NormalizeCatalogFolderPath(folderPath), sourceSizeBytes, dirMtimeMs)
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// BuildArtifactZipName derives the filesystem-safe file name for an artifact:
// a sanitized folder basename plus a version-key prefix.
func BuildArtifactZipName(folderPath, versionKey string) string {
	normalized := NormalizeCatalogFolderPath(folderPath)
	base := path.Base(normalized)
	if base == "/" {
		base = ""
	}

	safeBase := sanitizeBaseSegment(base)
	if safeBase == "" {
		safeBase = "folder"
	}

	safeVersion := nonAlnum.ReplaceAllString(strings.TrimSpace(versionKey), "")
	if len(safeVersion) > 24 {
		safeVersion = safeVersion[:24]
	}
	if safeVersion == "" {
		safeVersion = "version"
	}

	return safeBase + "-" + safeVersion + ".zip"
}

func sanitizeBaseSegment(segment string) string {
	// Decompose first so accented letters keep their base rune through the
	// ASCII filter: "Colección" becomes "Coleccion", not "Coleccin".
	ascii := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, norm.NFKD.String(segment))
	ascii = unsafeSegment.ReplaceAllString(ascii, "-")
	ascii = multiDash.ReplaceAllString(ascii, "-")
	ascii = strings.Trim(ascii, "-")
	if len(ascii) > 120 {
		ascii = ascii[:120]
	}
	return ascii
}
