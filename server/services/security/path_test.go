package security_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faceforge/orchestrator/server/services/security"
)

func TestValidatePathRejectsEmptyPath(t *testing.T) {
	_, err := security.ValidatePath("", []string{t.TempDir()}, false, false)
	require.Error(t, err)
}

func TestValidatePathRejectsDotDotComponents(t *testing.T) {
	root := t.TempDir()
	// filepath.Join would clean the ".." away before ValidatePath ever saw it, so the literal
	// path is built by concatenation to make sure the rejection really happens on raw input.
	_, err := security.ValidatePath(root+string(filepath.Separator)+"..", []string{root}, false, false)
	require.Error(t, err)
}

func TestValidatePathRejectsPathOutsideAllowedRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "file.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	_, err := security.ValidatePath(target, []string{root}, true, false)
	require.Error(t, err)
}

func TestValidatePathRejectsSymlinkEscapingAllowedRoots(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	_, err := security.ValidatePath(link, []string{root}, true, false)
	require.Error(t, err)
}

func TestValidatePathMustExistRejectsMissingPath(t *testing.T) {
	root := t.TempDir()
	_, err := security.ValidatePath(filepath.Join(root, "missing.txt"), []string{root}, true, false)
	require.Error(t, err)
}

func TestValidatePathAllowCreateRejectsNonExistentParentDirectory(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "no-such-dir", "out.mp4")
	_, err := security.ValidatePath(target, []string{root}, false, true)
	require.Error(t, err)
}

func TestValidatePathAllowCreateAcceptsAnExistingWritableParent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "out.mp4")
	real, err := security.ValidatePath(target, []string{root}, false, true)
	require.NoError(t, err)
	require.Equal(t, target, real)
}

func TestValidatePathAllowCreateRejectsNonWritableParentDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits behave differently on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root can write through permission bits")
	}
	root := t.TempDir()
	readOnly := filepath.Join(root, "readonly")
	require.NoError(t, os.Mkdir(readOnly, 0o555))
	t.Cleanup(func() { os.Chmod(readOnly, 0o755) })

	_, err := security.ValidatePath(filepath.Join(readOnly, "out.mp4"), []string{root}, false, true)
	require.Error(t, err)
}

func TestValidateInputPathRejectsDirectories(t *testing.T) {
	root := t.TempDir()
	_, err := security.ValidateInputPath(root, []string{root})
	require.Error(t, err)
}

func TestValidateInputPathAcceptsAnExistingFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "in.mp4")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	real, err := security.ValidateInputPath(target, []string{root})
	require.NoError(t, err)
	require.Equal(t, target, real)
}

func TestValidateOutputPathRejectsNonWritableParentDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits behave differently on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root can write through permission bits")
	}
	root := t.TempDir()
	readOnly := filepath.Join(root, "readonly")
	require.NoError(t, os.Mkdir(readOnly, 0o555))
	t.Cleanup(func() { os.Chmod(readOnly, 0o755) })

	_, err := security.ValidateOutputPath(filepath.Join(readOnly, "out.mp4"), []string{root})
	require.Error(t, err)
}

func TestValidateDirectoryPathAcceptsAnExistingDirectory(t *testing.T) {
	root := t.TempDir()
	real, err := security.ValidateDirectoryPath(root, []string{root})
	require.NoError(t, err)
	require.Equal(t, root, real)
}

func TestValidateDirectoryPathRejectsAFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "not-a-dir")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	_, err := security.ValidateDirectoryPath(target, []string{root})
	require.Error(t, err)
}

func TestSanitizeFilenameStripsUnsafeCharacters(t *testing.T) {
	require.Equal(t, "a_b_c.mp4", security.SanitizeFilename("a/b c.mp4"))
}

func TestSanitizeFilenameReplacesEmptyOrHiddenNames(t *testing.T) {
	require.Equal(t, "unnamed", security.SanitizeFilename(""))
	require.Equal(t, "unnamed", security.SanitizeFilename("..."))
	require.Equal(t, "_foo", security.SanitizeFilename(".foo"))
}
