// Package project discovers the repository an instance is working in.
//
// Two roots matter for coordination. The work root is the top of the
// checkout the instance edits (a linked worktree has its own). The common
// root is the main checkout shared by every worktree of the repository; the
// coordination store lives there so all worktrees see the same locks.
package project

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/orchestkit/ork-coord/internal/errors"
)

// CommandExecutor abstracts command execution for testability.
// This allows tests to mock git commands without executing them.
type CommandExecutor interface {
	// Run executes a command and returns its standard output.
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns its standard output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Output()
}

// Info describes the project an instance is running in.
type Info struct {
	// WorkRoot is the top of the instance's own checkout.
	WorkRoot string
	// Root is the common root shared by all worktrees. Equal to WorkRoot
	// outside git or in the main checkout.
	Root string
	// Branch is the checked-out branch, empty when detached or unknown.
	Branch string
	// IsGit reports whether a git repository was found.
	IsGit bool
}

// Name returns the base name of the common root.
func (i *Info) Name() string {
	return filepath.Base(i.Root)
}

// IsWorktree reports whether the instance runs in a linked worktree.
func (i *Info) IsWorktree() bool {
	return i.IsGit && i.WorkRoot != i.Root
}

// Detect inspects dir and returns its project information.
func Detect(dir string) (*Info, error) {
	return DetectWith(NewCLICommandExecutor(), dir)
}

// DetectWith is Detect with a custom executor.
// Directories outside any git repository are their own project.
func DetectWith(executor CommandExecutor, dir string) (*Info, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", dir)
	}

	workRoot, err := FindGitRoot(abs)
	if err != nil {
		return &Info{WorkRoot: abs, Root: abs}, nil
	}

	info := &Info{WorkRoot: workRoot, Root: workRoot, IsGit: true}
	if common, err := CommonRoot(executor, workRoot); err == nil {
		info.Root = common
	}
	info.Branch = Branch(executor, workRoot)
	return info, nil
}

// FindGitRoot finds the root of the git checkout by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
// Returns an error if no git repository is found.
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			// .git can be a directory (normal repo) or a file (worktree)
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git
			return "", errors.New("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// CommonRoot returns the main checkout for the repository containing dir.
// For a linked worktree this is the checkout that owns the shared .git
// directory; otherwise it is the checkout itself.
func CommonRoot(executor CommandExecutor, dir string) (string, error) {
	out, err := executor.Run(dir, "git", "rev-parse", "--git-common-dir")
	if err != nil {
		return "", errors.Wrap(err, "git rev-parse --git-common-dir")
	}

	common := strings.TrimSpace(string(out))
	if common == "" {
		return "", errors.New("git returned an empty common dir")
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(dir, common)
	}
	common = filepath.Clean(common)

	// Bare repositories have no checkout above the git dir.
	if filepath.Base(common) != ".git" {
		return dir, nil
	}
	return filepath.Dir(common), nil
}

// Branch returns the checked-out branch of dir, or "" when detached or unknown.
func Branch(executor CommandExecutor, dir string) string {
	out, err := executor.Run(dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return ""
	}
	return branch
}

// Normalize converts path into the slash-separated form used as a lock key,
// relative to root. Relative paths are taken relative to root. The second
// result is false for empty paths, the root itself and anything outside it.
func Normalize(root, path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" || root == "" {
		return "", false
	}

	root = filepath.Clean(root)
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	if rel, ok := within(root, path); ok {
		return rel, true
	}

	// Retry with symlinks resolved (e.g. /var vs /private/var on macOS).
	if rel, ok := within(resolve(root), resolve(path)); ok {
		return rel, true
	}
	return "", false
}

func within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// resolve evaluates symlinks on the longest existing prefix of path.
func resolve(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolve(parent), filepath.Base(path))
}
