package sevenzip

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathSafety controls how strictly an entry's archive path is validated
// before extraction.
type PathSafety int

const (
	// PathSafetyStrict rejects ".." components and absolute paths, and
	// additionally verifies that the canonicalised destination stays
	// inside the canonicalised destination root. This is the default.
	PathSafetyStrict PathSafety = iota

	// PathSafetyRelaxed rejects ".." components and absolute paths only;
	// it does not canonicalise or verify containment.
	PathSafetyRelaxed

	// PathSafetyDisabled performs no validation at all. Documented as
	// dangerous: a malicious archive can write anywhere the process has
	// permission to write.
	PathSafetyDisabled
)

func hasTraversalComponent(archivePath string) bool {
	for _, c := range strings.Split(archivePath, "/") {
		if c == ".." {
			return true
		}
	}

	return false
}

// validateExtractPath resolves archivePath against destRoot under policy,
// returning the path an extractor should write to. entryIndex is carried
// for error reporting only.
func validateExtractPath(destRoot, archivePath string, policy PathSafety, entryIndex int) (string, error) {
	if policy == PathSafetyDisabled {
		return filepath.Join(destRoot, archivePath), nil
	}

	if hasTraversalComponent(archivePath) {
		return "", &PathTraversalError{EntryIndex: entryIndex, Path: archivePath}
	}

	if strings.HasPrefix(archivePath, "/") {
		return "", &PathTraversalError{EntryIndex: entryIndex, Path: archivePath}
	}

	full := filepath.Join(destRoot, archivePath)

	if policy == PathSafetyRelaxed {
		return full, nil
	}

	return validateStrictContainment(destRoot, full, archivePath, entryIndex)
}

// validateStrictContainment implements PathSafetyStrict's canonicalisation
// check: the destination root must canonicalise successfully (any I/O
// error propagates rather than being silently swallowed), and the target
// path — canonicalised directly if it exists, or built by canonicalising
// the longest existing ancestor and re-appending the non-existent
// components otherwise — must resolve inside the canonical destination
// root.
func validateStrictContainment(destRoot, full, archivePath string, entryIndex int) (string, error) {
	canonicalDest, err := filepath.EvalSymlinks(destRoot)
	if err != nil {
		return "", fmt.Errorf("sevenzip: error canonicalising destination: %w", err)
	}

	canonicalDest = filepath.Clean(canonicalDest)

	var canonicalFull string

	if _, statErr := os.Stat(full); statErr == nil {
		if canonicalFull, err = filepath.EvalSymlinks(full); err != nil {
			return "", fmt.Errorf("sevenzip: error canonicalising destination path: %w", err)
		}
	} else {
		ancestor := full

		var pending []string

		for {
			if _, statErr := os.Stat(ancestor); statErr == nil {
				break
			}

			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				return "", &PathTraversalError{EntryIndex: entryIndex, Path: archivePath}
			}

			pending = append(pending, filepath.Base(ancestor))
			ancestor = parent
		}

		canonicalAncestor, err := filepath.EvalSymlinks(ancestor)
		if err != nil {
			return "", fmt.Errorf("sevenzip: error canonicalising existing ancestor: %w", err)
		}

		result := canonicalAncestor
		for i := len(pending) - 1; i >= 0; i-- {
			result = filepath.Join(result, pending[i])
		}

		canonicalFull = result
	}

	canonicalFull = filepath.Clean(canonicalFull)

	if canonicalFull != canonicalDest &&
		!strings.HasPrefix(canonicalFull, canonicalDest+string(filepath.Separator)) {
		return "", &PathTraversalError{EntryIndex: entryIndex, Path: archivePath}
	}

	return full, nil
}
