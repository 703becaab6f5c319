package session

import (
	"testing"
)

func TestPrivacyFilter_IsAllowed(t *testing.T) {
	tests := []struct {
		name   string
		filter PrivacyFilter
		cwd    string
		want   bool
	}{
		{
			name:   "empty filter allows everything",
			filter: PrivacyFilter{},
			cwd:    "/home/user/project",
			want:   true,
		},
		{
			name:   "empty working dir always allowed",
			filter: PrivacyFilter{BlockedPaths: []string{"/tmp/*"}},
			cwd:    "",
			want:   true,
		},
		{
			name:   "allowlist match direct",
			filter: PrivacyFilter{AllowedPaths: []string{"/home/user/work/*"}},
			cwd:    "/home/user/work/myproject",
			want:   true,
		},
		{
			name:   "allowlist match nested",
			filter: PrivacyFilter{AllowedPaths: []string{"/home/user/work/*"}},
			cwd:    "/home/user/work/deep/nested/path",
			want:   true,
		},
		{
			name:   "allowlist no match",
			filter: PrivacyFilter{AllowedPaths: []string{"/home/user/work/*"}},
			cwd:    "/home/user/personal/diary",
			want:   false,
		},
		{
			name:   "blocklist match",
			filter: PrivacyFilter{BlockedPaths: []string{"/tmp/*"}},
			cwd:    "/tmp/scratch",
			want:   false,
		},
		{
			name:   "blocklist match nested",
			filter: PrivacyFilter{BlockedPaths: []string{"/tmp/*"}},
			cwd:    "/tmp/deep/nested",
			want:   false,
		},
		{
			name:   "blocklist no match",
			filter: PrivacyFilter{BlockedPaths: []string{"/tmp/*"}},
			cwd:    "/home/user/project",
			want:   true,
		},
		{
			name: "allowlist passes but blocklist catches",
			filter: PrivacyFilter{
				AllowedPaths: []string{"/home/user/*"},
				BlockedPaths: []string{"/home/user/secret"},
			},
			cwd:  "/home/user/secret",
			want: false,
		},
		{
			name: "multiple allowlist patterns",
			filter: PrivacyFilter{
				AllowedPaths: []string{"/home/user/work/*", "/home/user/projects/*"},
			},
			cwd:  "/home/user/projects/cool",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.IsAllowed(tt.cwd)
			if got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.cwd, got, tt.want)
			}
		})
	}
}

func TestPrivacyFilter_Apply(t *testing.T) {
	original := Session{
		ID:                "sess-abc123",
		ProjectName:       "MYPROJECT",
		Cwd:               "/home/user/projects/myproject",
		SourcePID:         12345,
		ShellPID:          12346,
		ShellPPID:         12347,
		SourceFingerprint: "com.example.term|/dev/ttys001|12346",
		TerminalTTY:       "/dev/ttys001",
		TerminalSessionID: "w1",
		TerminalWindowID:  "w1",
		TerminalPaneID:    "%3",
	}

	t.Run("mask working dirs", func(t *testing.T) {
		f := &PrivacyFilter{MaskWorkingDirs: true}
		result := f.Apply(original)
		if result.Cwd != "myproject" {
			t.Errorf("expected Cwd = %q, got %q", "myproject", result.Cwd)
		}
		if original.Cwd != "/home/user/projects/myproject" {
			t.Error("original was modified")
		}
	})

	t.Run("mask session IDs", func(t *testing.T) {
		f := &PrivacyFilter{MaskSessionIDs: true}
		result := f.Apply(original)
		if result.ID == original.ID {
			t.Error("session ID should have been masked")
		}
		if len(result.ID) == 0 {
			t.Error("masked session ID should not be empty")
		}
	})

	t.Run("mask PIDs", func(t *testing.T) {
		f := &PrivacyFilter{MaskPIDs: true}
		result := f.Apply(original)
		if result.SourcePID != 0 || result.ShellPID != 0 || result.ShellPPID != 0 {
			t.Errorf("expected all pids = 0, got %d/%d/%d", result.SourcePID, result.ShellPID, result.ShellPPID)
		}
		if result.SourceFingerprint != "" {
			t.Errorf("fingerprint embeds a pid, expected it cleared, got %q", result.SourceFingerprint)
		}
	})

	t.Run("mask terminals", func(t *testing.T) {
		f := &PrivacyFilter{MaskTerminals: true}
		result := f.Apply(original)
		if result.TerminalTTY != "" || result.TerminalPaneID != "" ||
			result.TerminalWindowID != "" || result.TerminalSessionID != "" {
			t.Errorf("terminal fields should be cleared, got %+v", result)
		}
	})

	t.Run("no masking is noop", func(t *testing.T) {
		f := &PrivacyFilter{}
		result := f.Apply(original)
		if result.ID != original.ID || result.Cwd != original.Cwd ||
			result.ShellPID != original.ShellPID || result.TerminalPaneID != original.TerminalPaneID {
			t.Error("no-op filter should not change any fields")
		}
	})

	t.Run("all masks combined", func(t *testing.T) {
		f := &PrivacyFilter{
			MaskWorkingDirs: true,
			MaskSessionIDs:  true,
			MaskPIDs:        true,
			MaskTerminals:   true,
		}
		result := f.Apply(original)
		if result.Cwd != "myproject" {
			t.Errorf("Cwd not masked: %q", result.Cwd)
		}
		if result.ID == original.ID {
			t.Error("session ID not masked")
		}
		if result.ShellPID != 0 {
			t.Error("ShellPID not masked")
		}
		if result.TerminalTTY != "" {
			t.Error("TerminalTTY not masked")
		}
	})
}

func TestPrivacyFilter_ApplyView(t *testing.T) {
	view := View{
		Sessions: []Session{
			{ID: "sess-1", Cwd: "/home/user/work/project-a", ShellPID: 100},
			{ID: "sess-2", Cwd: "/home/user/personal/diary", ShellPID: 200},
			{ID: "sess-3", Cwd: "/tmp/scratch", ShellPID: 300},
		},
		Global: GlobalState{Status: GlobalProcessing},
	}

	f := &PrivacyFilter{
		MaskPIDs:     true,
		BlockedPaths: []string{"/tmp/*"},
	}

	result := f.ApplyView(view)

	if len(result.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(result.Sessions))
	}
	if result.Global.Status != GlobalProcessing {
		t.Errorf("global state should pass through, got %v", result.Global.Status)
	}

	for _, s := range result.Sessions {
		if s.ShellPID != 0 {
			t.Errorf("ShellPID should be masked, got %d for %s", s.ShellPID, s.ID)
		}
		if s.Cwd == "/tmp/scratch" {
			t.Error("blocked session should not be in result")
		}
	}

	if view.Sessions[0].ShellPID != 100 {
		t.Error("original view was modified")
	}
}

func TestPrivacyFilter_ApplyView_AllowAndBlock(t *testing.T) {
	view := View{
		Sessions: []Session{
			{ID: "sess-1", Cwd: "/home/user/work/project-a"},
			{ID: "sess-2", Cwd: "/home/user/work/secret-project"},
			{ID: "sess-3", Cwd: "/other/path"},
		},
	}

	f := &PrivacyFilter{
		AllowedPaths: []string{"/home/user/work/*"},
		BlockedPaths: []string{"/home/user/work/secret-*"},
	}

	result := f.ApplyView(view)

	if len(result.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(result.Sessions))
	}
	if result.Sessions[0].ID != "sess-1" {
		t.Errorf("expected sess-1, got %s", result.Sessions[0].ID)
	}
}

func TestPrivacyFilter_IsNoop(t *testing.T) {
	t.Run("zero value is noop", func(t *testing.T) {
		f := &PrivacyFilter{}
		if !f.IsNoop() {
			t.Error("zero value filter should be noop")
		}
	})

	t.Run("with masking is not noop", func(t *testing.T) {
		f := &PrivacyFilter{MaskPIDs: true}
		if f.IsNoop() {
			t.Error("filter with masking should not be noop")
		}
	})

	t.Run("with paths is not noop", func(t *testing.T) {
		f := &PrivacyFilter{AllowedPaths: []string{"/foo/*"}}
		if f.IsNoop() {
			t.Error("filter with allowed paths should not be noop")
		}
	})
}

func TestMatchPathOrParent_Roots(t *testing.T) {
	// filepath.Dir at a root returns the root itself, so the loop must
	// terminate via the p == filepath.Dir(p) condition.
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{
			name:    "root pattern does not match child",
			pattern: "/",
			path:    "/project",
			want:    false, // loop stops before checking the root itself
		},
		{
			name:    "exact path match",
			pattern: "/home/user/project",
			path:    "/home/user/project",
			want:    true,
		},
		{
			name:    "parent glob matches nested path",
			pattern: "/home/user/*",
			path:    "/home/user/work/src",
			want:    true,
		},
		{
			name:    "no match returns false without infinite loop",
			pattern: "/other/*",
			path:    "/home/user/project",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchPathOrParent(tt.pattern, tt.path)
			if got != tt.want {
				t.Errorf("matchPathOrParent(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestShortHash_Deterministic(t *testing.T) {
	a := shortHash("sess-abc123")
	b := shortHash("sess-abc123")
	if a != b {
		t.Errorf("shortHash not deterministic: %q vs %q", a, b)
	}

	c := shortHash("sess-different")
	if a == c {
		t.Error("different inputs should produce different hashes")
	}
}
