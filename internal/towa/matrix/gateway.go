package matrix

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bdobrica/Towa/internal/towa/render"
)

// CommandPrefix forces a reply even when no intent is recognized, so
// "!towa <anything>" never disappears into silence.
const CommandPrefix = "!towa"

// Conversations is the turn-processing capability the gateway drives.
// *turn.Processor satisfies it.
type Conversations interface {
	HandleUtterance(ctx context.Context, actor, text string) (string, bool)
	HandleResume(ctx context.Context, actor, token, reply string) string
}

// Gateway routes room messages into conversational turns. It remembers the
// open clarification per (room, sender) so a bare reply like "42" resumes
// the pending question instead of being dropped.
type Gateway struct {
	conv Conversations

	mu   sync.Mutex
	open map[string]string // room|sender -> resume token
}

// NewGateway creates a Gateway over conv.
func NewGateway(conv Conversations) *Gateway {
	return &Gateway{conv: conv, open: make(map[string]string)}
}

// HandleText processes one room message and returns the reply to post.
// An empty return means the message is ordinary chatter and Towa stays
// quiet.
func (g *Gateway) HandleText(ctx context.Context, roomID, sender, body string) string {
	text := strings.TrimSpace(body)
	forced := false
	if rest, ok := strings.CutPrefix(text, CommandPrefix); ok {
		text = strings.TrimSpace(rest)
		forced = true
	}
	if text == "" {
		if forced {
			return helpText()
		}
		return ""
	}
	if forced && strings.EqualFold(text, "help") {
		return helpText()
	}

	// A message that carries a recognizable intent always starts a fresh
	// turn, even with a clarification still open.
	if reply, handled := g.conv.HandleUtterance(ctx, sender, text); handled {
		g.track(roomID, sender, reply)
		return reply
	}

	// No intent. If this sender owes us an answer, the message is it.
	if token, ok := g.openToken(roomID, sender); ok {
		reply := g.conv.HandleResume(ctx, sender, token, text)
		g.track(roomID, sender, reply)
		return reply
	}

	if forced {
		return fmt.Sprintf("🤔 I couldn't map that to an operation. Try `%s help` for examples.", CommandPrefix)
	}
	return ""
}

// track records or clears the open clarification for (room, sender) based
// on whether the outgoing reply carries a resume reference.
func (g *Gateway) track(roomID, sender, reply string) {
	key := roomID + "|" + sender
	g.mu.Lock()
	defer g.mu.Unlock()
	if token, ok := render.ResumeRef(reply); ok {
		g.open[key] = token
		return
	}
	delete(g.open, key)
}

func (g *Gateway) openToken(roomID, sender string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	token, ok := g.open[roomID+"|"+sender]
	return token, ok
}

func helpText() string {
	return strings.Join([]string{
		"**Towa** — AWX operations by conversation. Talk to me like:",
		"• \"launch template 42 limited to web\"",
		"• \"why did the last job fail\"",
		"• \"show me the output of job 117\"",
		"• \"list templates\" / \"list projects\" / \"list environments\"",
		"• \"test the connection\"",
		"",
		fmt.Sprintf("When I ask for missing values, reply with `field=value` pairs. Prefix with `%s` to force a response.", CommandPrefix),
	}, "\n")
}
