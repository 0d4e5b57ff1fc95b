// Package pathguard decides whether a referenced system path is safe to
// mirror into a content directory. Every check is a pure predicate; nothing
// is created or modified on disk.
package pathguard

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultPrefix is the namespace system asset references must live under.
const DefaultPrefix = "/system/"

var allowedChars = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

// Guard validates system paths against a required prefix.
type Guard struct {
	Prefix string
}

// New returns a Guard for prefix, falling back to DefaultPrefix.
func New(prefix string) Guard {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Guard{Prefix: prefix}
}

// Validate reports whether ref may be written under contentRoot.
// ref may carry a query or fragment; only the path portion is checked.
func Validate(ref, contentRoot string) bool {
	return New(DefaultPrefix).Validate(ref, contentRoot)
}

// Validate reports whether ref may be written under contentRoot.
func (g Guard) Validate(ref, contentRoot string) bool {
	p, _ := SplitQuery(ref)

	if !strings.HasPrefix(p, g.Prefix) {
		return false
	}
	if strings.Contains(p, "..") {
		return false
	}
	if !allowedChars.MatchString(p) {
		return false
	}
	if contentRoot == "" {
		return false
	}

	target := filepath.Join(contentRoot, filepath.FromSlash(p))
	return Within(contentRoot, target)
}

// SplitQuery separates a reference into its path and its query (without the
// leading '?'). A fragment is dropped.
func SplitQuery(ref string) (path, query string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// Within reports whether target is root or a descendant of root. The check is
// made lexically, and again after resolving symlinks on the deepest prefix of
// target that already exists, so a symlink planted inside root cannot point
// a later write outside it.
func Within(root, target string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	if !isDescendant(absRoot, absTarget) {
		return false
	}

	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		// Nothing exists yet, so nothing on disk can redirect the write.
		return errors.Is(err, fs.ErrNotExist)
	}

	existing, rest := deepestExisting(absTarget)
	if existing == "" {
		return true
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return false
	}
	return isDescendant(resolvedRoot, filepath.Join(resolved, rest))
}

// deepestExisting walks up from p until it finds a path that exists, and
// returns it along with the remainder that does not.
func deepestExisting(p string) (existing, rest string) {
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			r, _ := filepath.Rel(cur, p)
			if r == "." {
				r = ""
			}
			return cur, r
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", ""
		}
		cur = parent
	}
}

func isDescendant(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
