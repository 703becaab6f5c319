// Package mock synthesizes realistic session lifecycles for demos and
// frontend development. Events go through the same ingest path as real
// hook traffic, so everything downstream (coalescing, reduction,
// notifications, publishing) behaves exactly as in production.
package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/agent-beacon/backend/internal/session"
)

// Ingest is where generated events are fed; the coalescer satisfies it.
type Ingest interface {
	Enqueue(ev session.Event)
}

type mockSession struct {
	id            string
	project       string
	cwd           string
	model         string
	prompt        string
	pattern       string
	tokensPerTick int
	maxTokens     int
	tools         []string
	toolIdx       int
	tokens        int
	completed     bool
	shellPID      int
	paneID        string
}

var commonTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob", "Task"}

type Generator struct {
	ingest   Ingest
	sessions []*mockSession
}

func NewGenerator(ingest Ingest) *Generator {
	return &Generator{ingest: ingest}
}

func (g *Generator) Start(ctx context.Context) {
	g.sessions = []*mockSession{
		{
			id: "mock-refactor", project: "myproject", cwd: "/home/user/myproject",
			model: "claude-opus-4", prompt: "refactor the storage layer",
			pattern: "steady", tokensPerTick: 2400, maxTokens: 180_000,
			tools: []string{"Read", "Grep", "Edit", "Write", "Bash"},
			shellPID: 40001, paneID: "dev:0.0",
		},
		{
			id: "mock-tests", project: "webapp", cwd: "/home/user/webapp",
			model: "claude-sonnet-4", prompt: "fix the failing integration tests",
			pattern: "burst", tokensPerTick: 5000, maxTokens: 140_000,
			tools: []string{"Read", "Write", "Bash", "Bash"},
			shellPID: 40002, paneID: "dev:1.0",
		},
		{
			id: "mock-debug", project: "api-server", cwd: "/home/user/api-server",
			model: "claude-opus-4", prompt: "debug the flaky websocket handler",
			pattern: "stall", tokensPerTick: 1600, maxTokens: 120_000,
			tools: []string{"Read", "Grep", "Bash"},
			shellPID: 40003, paneID: "dev:2.0",
		},
		{
			id: "mock-migrate", project: "database", cwd: "/home/user/database",
			model: "claude-haiku-3-5", prompt: "write the schema migration",
			pattern: "ended", tokensPerTick: 3000, maxTokens: 100_000,
			tools: commonTools,
			shellPID: 40004,
		},
	}

	for _, ms := range g.sessions {
		g.ingest.Enqueue(g.event(ms, session.KindPromptSubmitted, func(ev *session.Event) {
			ev.Prompt = ms.prompt
		}))
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, ms := range g.sessions {
				if ms.completed {
					continue
				}
				g.advance(ms, tick)
			}
		}
	}
}

func (g *Generator) advance(ms *mockSession, tick int) {
	switch ms.pattern {
	case "steady":
		g.advanceSteady(ms, tick, 1.0)
	case "burst":
		multiplier := 1.0
		if tick%8 < 3 {
			multiplier = 2.5
		}
		g.advanceSteady(ms, tick, multiplier)
	case "stall":
		g.advanceStall(ms, tick)
	case "ended":
		g.advanceEnded(ms, tick)
	}
}

func (g *Generator) advanceSteady(ms *mockSession, tick int, multiplier float64) {
	ms.tokens += int(float64(ms.tokensPerTick)*multiplier) + rand.Intn(400)
	if ms.tokens >= ms.maxTokens {
		ms.completed = true
		g.ingest.Enqueue(g.event(ms, session.KindStopped, nil))
		return
	}
	g.ingest.Enqueue(g.toolEvent(ms))
}

// advanceStall alternates working and waiting so the waiting states and
// their notifications are always observable in a demo, regardless of
// when a client connects.
func (g *Generator) advanceStall(ms *mockSession, tick int) {
	const cyclePeriod = 70
	if phase := tick % cyclePeriod; phase >= 40 {
		if phase == 40 {
			g.ingest.Enqueue(g.event(ms, session.KindPermissionNeeded, func(ev *session.Event) {
				ev.ToolName = "Bash"
			}))
		}
		return
	}

	ms.tokens += ms.tokensPerTick + rand.Intn(200)
	if ms.tokens >= ms.maxTokens {
		ms.completed = true
		g.ingest.Enqueue(g.event(ms, session.KindStopped, nil))
		return
	}
	g.ingest.Enqueue(g.toolEvent(ms))
}

// advanceEnded works briefly, then ends the session outright so the
// terminated flow and retention purge are exercised.
func (g *Generator) advanceEnded(ms *mockSession, tick int) {
	if tick >= 20 {
		ms.completed = true
		g.ingest.Enqueue(g.event(ms, session.KindSessionEnded, nil))
		return
	}
	ms.tokens += ms.tokensPerTick
	g.ingest.Enqueue(g.toolEvent(ms))
}

func (g *Generator) toolEvent(ms *mockSession) session.Event {
	tool := ms.tools[ms.toolIdx%len(ms.tools)]
	ms.toolIdx++
	tokens := ms.tokens
	return g.event(ms, session.KindToolUseCompleted, func(ev *session.Event) {
		ev.ToolName = tool
		ev.UsageTokens = &tokens
	})
}

func (g *Generator) event(ms *mockSession, kind session.Kind, customize func(*session.Event)) session.Event {
	now := time.Now()
	shellPID := ms.shellPID
	ev := session.Event{
		Kind:           kind,
		SessionID:      ms.id,
		Timestamp:      &now,
		Cwd:            ms.cwd,
		ProjectName:    ms.project,
		Model:          ms.model,
		ShellPID:       &shellPID,
		TerminalPaneID: ms.paneID,
	}
	if customize != nil {
		customize(&ev)
	}
	return ev
}
