package session

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Status is the display status of a session. The order is a sort priority
// only; any status may follow any other, since hook events can arrive
// reordered over the local transport.
type Status int

const (
	StatusWaiting Status = iota
	StatusProcessing
	StatusCompleted
	StatusDestroyed
)

var statusNames = map[Status]string{
	StatusWaiting:    "waiting",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusDestroyed:  "destroyed",
}

var statusFromName = map[string]Status{
	"waiting":    StatusWaiting,
	"processing": StatusProcessing,
	"completed":  StatusCompleted,
	"destroyed":  StatusDestroyed,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Priority returns the sort rank: waiting < processing < completed < destroyed.
func (s Status) Priority() int {
	return int(s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := statusFromName[raw]; ok {
		*s = v
	}
	return nil
}

// LivenessState classifies whether the OS process behind a session is
// believed to still exist. Independent of the display Status.
type LivenessState string

const (
	LivenessAlive          LivenessState = "alive"
	LivenessSuspectOffline LivenessState = "suspectOffline"
	LivenessOffline        LivenessState = "offline"
	LivenessTerminated     LivenessState = "terminated"
)

// TerminationReason records why a session reached the terminated liveness
// state. Empty means not terminated.
type TerminationReason string

const (
	ReasonSessionEndEvent  TerminationReason = "sessionEndEvent"
	ReasonProcessMissing   TerminationReason = "processMissing"
	ReasonTTYMissing       TerminationReason = "ttyMissing"
	ReasonHeartbeatTimeout TerminationReason = "heartbeatTimeout"
	ReasonManual           TerminationReason = "manual"
)

// DisplayName returns a human-readable description for notifications.
func (r TerminationReason) DisplayName() string {
	switch r {
	case ReasonSessionEndEvent:
		return "Session ended normally"
	case ReasonProcessMissing:
		return "Process not found"
	case ReasonTTYMissing:
		return "Terminal disconnected"
	case ReasonHeartbeatTimeout:
		return "Session timed out"
	case ReasonManual:
		return "Manually terminated"
	default:
		return "Session ended"
	}
}

// SourceConfidence grades how reliable the reported source application
// provenance is.
type SourceConfidence string

const (
	ConfidenceHigh    SourceConfidence = "high"
	ConfidenceMedium  SourceConfidence = "medium"
	ConfidenceLow     SourceConfidence = "low"
	ConfidenceUnknown SourceConfidence = "unknown"
)

func (c *SourceConfidence) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch SourceConfidence(strings.ToLower(raw)) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		*c = SourceConfidence(strings.ToLower(raw))
	default:
		*c = ConfidenceUnknown
	}
	return nil
}

// Session is one tracked unit of agent activity, keyed by an opaque id
// assigned by the first event that references it.
type Session struct {
	ID           string `json:"id"`
	ProjectName  string `json:"projectName"`
	Cwd          string `json:"cwd,omitempty"`
	Status       Status `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`
	Model        string `json:"model,omitempty"`

	UsageTokens      int `json:"usageTokens"`
	UsageBytes       int `json:"usageBytes"`
	MaxContextTokens int `json:"maxContextTokens"`
	MaxContextBytes  int `json:"maxContextBytes"`
	UsageSegments    int `json:"usageSegments"`

	UpdatedAt                 time.Time  `json:"updatedAt"`
	CompletedAt               *time.Time `json:"completedAt,omitempty"`
	WaitingSince              *time.Time `json:"waitingSince,omitempty"`
	LastWaitingNotificationAt *time.Time `json:"lastWaitingNotificationAt,omitempty"`
	NotificationRepeatCount   int        `json:"notificationRepeatCount,omitempty"`

	SourceApp         string           `json:"sourceApp,omitempty"`
	SourceBundleID    string           `json:"sourceBundleId,omitempty"`
	SourcePID         int              `json:"sourcePid,omitempty"`
	SourceConfidence  SourceConfidence `json:"sourceConfidence"`
	ShellPID          int              `json:"shellPid,omitempty"`
	ShellPPID         int              `json:"shellPpid,omitempty"`
	TerminalTTY       string           `json:"terminalTty,omitempty"`
	TerminalSessionID string           `json:"terminalSessionId,omitempty"`
	TerminalWindowID  string           `json:"terminalWindowId,omitempty"`
	TerminalPaneID    string           `json:"terminalPaneId,omitempty"`
	SourceFingerprint string           `json:"sourceFingerprint,omitempty"`

	LivenessState     LivenessState     `json:"livenessState"`
	LastSeenAliveAt   *time.Time        `json:"lastSeenAliveAt,omitempty"`
	OfflineMarkedAt   *time.Time        `json:"offlineMarkedAt,omitempty"`
	CleanupDeadline   *time.Time        `json:"cleanupDeadline,omitempty"`
	TerminationReason TerminationReason `json:"terminationReason,omitempty"`
}

// Clone returns a deep copy of the Session, duplicating pointer fields so
// the copy can be mutated independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.WaitingSince = cloneTime(s.WaitingSince)
	c.LastWaitingNotificationAt = cloneTime(s.LastWaitingNotificationAt)
	c.LastSeenAliveAt = cloneTime(s.LastSeenAliveAt)
	c.OfflineMarkedAt = cloneTime(s.OfflineMarkedAt)
	c.CleanupDeadline = cloneTime(s.CleanupDeadline)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IsTerminated reports whether the session's liveness state is the
// absorbing terminated state.
func (s *Session) IsTerminated() bool {
	return s.LivenessState == LivenessTerminated
}

// DisplayStatusLine renders the one-line status shown on a session card.
func (s *Session) DisplayStatusLine() string {
	switch s.Status {
	case StatusProcessing:
		return "> " + strings.ToUpper(orDefault(s.StatusReason, "PROCESSING"))
	case StatusWaiting:
		return "> " + strings.ToUpper(orDefault(s.StatusReason, "WAITING_FOR_INPUT"))
	case StatusCompleted:
		return "> DONE"
	default:
		return "> DESTROYED"
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Segments maps a usage value against its ceiling onto a 0-10 bar:
// ceil(ratio*10) clamped to [1,10] for any usage > 0, and 0 only at zero
// usage. Used for both token and byte accounting.
func Segments(usage, max int) int {
	if usage <= 0 {
		return 0
	}
	if max <= 0 {
		return 10
	}
	ratio := float64(usage) / float64(max)
	if ratio > 1 {
		ratio = 1
	}
	seg := int(math.Ceil(ratio * 10))
	if seg < 1 {
		seg = 1
	}
	if seg > 10 {
		seg = 10
	}
	return seg
}

// BuildFingerprint derives a stable composite key for matching sessions to
// their originating terminal: lowercased "bundle|tty|pid". Returns "" when
// no component is known. Never used as the session map key.
func BuildFingerprint(sourceBundleID, terminalTTY string, shellPID, sourcePID int) string {
	bundle := strings.ToLower(strings.TrimSpace(sourceBundleID))
	tty := strings.ToLower(strings.TrimSpace(terminalTTY))
	pid := shellPID
	if pid <= 0 {
		pid = sourcePID
	}
	if bundle == "" && tty == "" && pid <= 0 {
		return ""
	}
	if pid < 0 {
		pid = 0
	}
	return bundle + "|" + tty + "|" + strconv.Itoa(pid)
}
