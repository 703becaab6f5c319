package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies inbound session lifecycle events.
type Kind int

const (
	KindPromptSubmitted Kind = iota
	KindToolUseCompleted
	KindPermissionNeeded
	KindNotification
	KindStopped
	KindSessionEnded
)

var kindNames = map[Kind]string{
	KindPromptSubmitted:  "prompt_submitted",
	KindToolUseCompleted: "tool_use_completed",
	KindPermissionNeeded: "permission_needed",
	KindNotification:     "notification",
	KindStopped:          "stopped",
	KindSessionEnded:     "session_ended",
}

// kindAliases maps normalized wire strings onto kinds. Hook emitters are
// loose about naming (CamelCase, hyphens, legacy names), so every variant
// is folded here, at the parse boundary, and nowhere else. pre_tool_use
// also signals active processing and maps onto tool_use_completed;
// subagent_stop carries session-end semantics.
var kindAliases = map[string]Kind{
	"prompt_submitted":   KindPromptSubmitted,
	"userpromptsubmit":   KindPromptSubmitted,
	"user_prompt_submit": KindPromptSubmitted,
	"tool_use_completed": KindToolUseCompleted,
	"posttooluse":        KindToolUseCompleted,
	"post_tool_use":      KindToolUseCompleted,
	"pretooluse":         KindToolUseCompleted,
	"pre_tool_use":       KindToolUseCompleted,
	"permission_needed":  KindPermissionNeeded,
	"permissionrequest":  KindPermissionNeeded,
	"permission_request": KindPermissionNeeded,
	"notification":       KindNotification,
	"stopped":            KindStopped,
	"stop":               KindStopped,
	"session_ended":      KindSessionEnded,
	"sessionend":         KindSessionEnded,
	"session_end":        KindSessionEnded,
	"subagentstop":       KindSessionEnded,
	"subagent_stop":      KindSessionEnded,
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind normalizes a wire event-kind string (trim, lowercase,
// hyphens to underscores) and resolves it through the alias table.
func ParseKind(raw string) (Kind, error) {
	normalized := normalizeToken(raw)
	if k, ok := kindAliases[normalized]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unsupported event kind %q", raw)
}

func normalizeToken(raw string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseKind(raw)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Event is one inbound lifecycle event as constructed by the transport.
// Everything except Kind and SessionID is optional; pointer fields
// distinguish "absent" from zero, since absence must never erase
// previously known values.
type Event struct {
	Kind      Kind       `json:"event"`
	SessionID string     `json:"session_id"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	Cwd              string `json:"cwd,omitempty"`
	ProjectName      string `json:"project_name,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
	Message          string `json:"message,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
	Model            string `json:"model,omitempty"`

	UsageTokens      *int `json:"usage_tokens,omitempty"`
	UsageBytes       *int `json:"usage_bytes,omitempty"`
	MaxContextTokens *int `json:"max_context_tokens,omitempty"`
	MaxContextBytes  *int `json:"max_context_bytes,omitempty"`

	SourceApp         string           `json:"source_app,omitempty"`
	SourceBundleID    string           `json:"source_bundle_id,omitempty"`
	SourcePID         *int             `json:"source_pid,omitempty"`
	SourceConfidence  SourceConfidence `json:"source_confidence,omitempty"`
	ShellPID          *int             `json:"shell_pid,omitempty"`
	ShellPPID         *int             `json:"shell_ppid,omitempty"`
	TerminalTTY       string           `json:"terminal_tty,omitempty"`
	TerminalSessionID string           `json:"terminal_session_id,omitempty"`
	TerminalWindowID  string           `json:"terminal_window_id,omitempty"`
	TerminalPaneID    string           `json:"terminal_pane_id,omitempty"`
}

// DecodeEvent parses and validates a wire payload. Unknown kinds and
// missing session ids are rejected here so they never reach the reducer.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.SessionID == "" {
		return Event{}, errors.New("event missing session_id")
	}
	return ev, nil
}
