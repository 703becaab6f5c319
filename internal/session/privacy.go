package session

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

// PrivacyFilter applies masking and path-based filtering to sessions
// before they are published to clients. The zero value is a no-op filter.
type PrivacyFilter struct {
	MaskWorkingDirs bool
	MaskSessionIDs  bool
	MaskPIDs        bool
	MaskTerminals   bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a session with the given working directory
// should be published. An empty working directory is always allowed (the
// session hasn't reported its path yet). When AllowedPaths is non-empty,
// the path must match at least one pattern. If it passes the allowlist,
// it must not match any BlockedPaths pattern.
func (f *PrivacyFilter) IsAllowed(cwd string) bool {
	if cwd == "" {
		return true
	}

	if len(f.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPaths {
			if matchPathOrParent(pattern, cwd) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPaths {
		if matchPathOrParent(pattern, cwd) {
			return false
		}
	}

	return true
}

// matchPathOrParent checks if pattern matches path or any of its parent
// directories. This allows patterns like "/home/user/*" to match deeply
// nested paths like "/home/user/work/project-a" because the parent
// "/home/user/work" matches the glob.
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a copy of the session with sensitive fields masked
// according to the filter configuration. The original is never modified.
func (f *PrivacyFilter) Apply(s Session) Session {
	masked := *s.Clone()

	if f.MaskWorkingDirs && masked.Cwd != "" {
		masked.Cwd = filepath.Base(masked.Cwd)
	}

	if f.MaskSessionIDs && masked.ID != "" {
		masked.ID = shortHash(masked.ID)
	}

	if f.MaskPIDs {
		masked.SourcePID = 0
		masked.ShellPID = 0
		masked.ShellPPID = 0
		masked.SourceFingerprint = ""
	}

	if f.MaskTerminals {
		masked.TerminalTTY = ""
		masked.TerminalSessionID = ""
		masked.TerminalWindowID = ""
		masked.TerminalPaneID = ""
	}

	return masked
}

// ApplyView returns a copy of the view containing only the allowed
// sessions, with masking applied to each. The original view is not
// modified.
func (f *PrivacyFilter) ApplyView(v View) View {
	if f.IsNoop() {
		return v
	}
	filtered := make([]Session, 0, len(v.Sessions))
	for _, s := range v.Sessions {
		if !f.IsAllowed(s.Cwd) {
			continue
		}
		filtered = append(filtered, f.Apply(s))
	}
	v.Sessions = filtered
	return v
}

// IsNoop reports whether the filter does nothing (no masking, no path filtering).
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskWorkingDirs && !f.MaskSessionIDs && !f.MaskPIDs && !f.MaskTerminals &&
		len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
