package security

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/faceforge/orchestrator/common/gerror"
)

// DefaultAllowedRoots returns the set of directories paths are allowed to resolve into when no
// caller-supplied allow-list is given: the current user's home directory and the system
// temporary directory, mirroring where media processing jobs are typically pointed at input
// and output files.
func DefaultAllowedRoots() []string {
	roots := []string{os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		roots = append(roots, home)
	}
	return roots
}

// ValidatePath resolves path to an absolute, symlink-free real path and checks that it falls
// inside one of allowedRoots. It rejects any path containing a ".." component before
// resolution, since a path that needs ".." to stay inside the allowed roots is not something
// callers should be relying on. If mustExist is true the resolved path must already exist; if
// allowCreate is true (and mustExist is false) the path's parent directory must exist instead,
// so a not-yet-created output file is accepted.
func ValidatePath(path string, allowedRoots []string, mustExist bool, allowCreate bool) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), `"'`)
	if trimmed == "" {
		return "", gerror.NewErrPathError("path must not be empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(trimmed), "/") {
		if part == ".." {
			return "", gerror.NewErrPathError("path must not contain '..' components")
		}
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", gerror.NewErrPathError("error resolving absolute path").Wrap(err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			// The path (or a component of it) doesn't exist yet; fall back to the
			// cleaned absolute path so allow-list containment can still be checked.
			real = filepath.Clean(abs)
		} else {
			return "", gerror.NewErrPathError("error resolving real path").Wrap(err)
		}
	}

	if !isContainedInAny(real, allowedRoots) {
		return "", gerror.NewErrPathError("path is outside the allowed directories")
	}

	if mustExist {
		if _, err := os.Stat(real); err != nil {
			return "", gerror.NewErrPathError("path does not exist").Wrap(err)
		}
	} else if allowCreate {
		parent := filepath.Dir(real)
		info, err := os.Stat(parent)
		if err != nil {
			return "", gerror.NewErrPathError("parent directory does not exist").Wrap(err)
		}
		if !info.IsDir() {
			return "", gerror.NewErrPathError("parent path is not a directory")
		}
		if err := checkDirWritable(parent); err != nil {
			return "", gerror.NewErrPathError("parent directory is not writable").Wrap(err)
		}
	}

	return real, nil
}

// checkDirWritable reports whether dir is writable by actually creating and removing a throwaway
// file in it. Permission bits alone aren't a reliable enough answer (ACLs, filesystem mount
// options, and container overlays can all override them), so this confirms it the direct way
// rather than interpreting os.FileMode.
func checkDirWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func isContainedInAny(real string, allowedRoots []string) bool {
	for _, root := range allowedRoots {
		rootReal, err := filepath.EvalSymlinks(root)
		if err != nil {
			rootReal = filepath.Clean(root)
		}
		if real == rootReal || strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ValidateInputPath validates path as an existing, readable input file.
func ValidateInputPath(path string, allowedRoots []string) (string, error) {
	real, err := ValidatePath(path, allowedRoots, true, false)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", gerror.NewErrPathError("error stat-ing input path").Wrap(err)
	}
	if info.IsDir() {
		return "", gerror.NewErrPathError("input path must be a file, not a directory")
	}
	return real, nil
}

// ValidateOutputPath validates path as a location an output file may be written to: it need
// not exist yet, but its parent directory must.
func ValidateOutputPath(path string, allowedRoots []string) (string, error) {
	return ValidatePath(path, allowedRoots, false, true)
}

// ValidateDirectoryPath validates path as an existing directory.
func ValidateDirectoryPath(path string, allowedRoots []string) (string, error) {
	real, err := ValidatePath(path, allowedRoots, true, false)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", gerror.NewErrPathError("error stat-ing directory path").Wrap(err)
	}
	if !info.IsDir() {
		return "", gerror.NewErrPathError("path is not a directory")
	}
	return real, nil
}

var safeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename strips any character outside [A-Za-z0-9._-] from a caller-supplied
// filename, replacing each with an underscore. A filename that becomes entirely hidden (a
// leading dot after sanitization, with no visible name) or empty is replaced with "unnamed" so
// it can never collide with or be mistaken for a dotfile.
func SanitizeFilename(name string) string {
	sanitized := safeFilenameChars.ReplaceAllString(name, "_")
	if sanitized == "" {
		return "unnamed"
	}
	if strings.HasPrefix(sanitized, ".") {
		rest := strings.TrimLeft(sanitized, ".")
		if rest == "" {
			return "unnamed"
		}
		sanitized = "_" + rest
	}
	return sanitized
}
