package conversation

import (
	"time"

	"github.com/finagents/loanflow/llm"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one recorded entry of the session's audit history: a user input,
// an agent reply, or an internal system note, with the state and verdict
// metadata that produced it.
type Turn struct {
	Index     int       `json:"index"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AgentID   string    `json:"agent_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Verdict   string    `json:"verdict,omitempty"`
	Directive string    `json:"directive,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the shared record of everything learned in a session. It is
// owned exclusively by the handoff controller: agents receive a Snapshot and
// return proposed updates, they never mutate the live context.
type Context struct {
	SessionID string    `json:"session_id"`
	Turns     []Turn    `json:"turns"`
	Slots     SlotSet   `json:"slots"`
	Active    string    `json:"active"` // active agent state name
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty context for a session.
func New(sessionID string) *Context {
	now := time.Now().UTC()
	return &Context{
		SessionID: sessionID,
		Slots:     NewSlotSet(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot returns a deep copy. Agents operate on snapshots only, which
// keeps every mutation auditable at the controller.
func (c *Context) Snapshot() *Context {
	out := &Context{
		SessionID: c.SessionID,
		Slots:     c.Slots.Clone(),
		Active:    c.Active,
		TurnCount: c.TurnCount,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	out.Turns = make([]Turn, len(c.Turns))
	copy(out.Turns, c.Turns)
	return out
}

// AppendTurn records a turn and returns it. Indexes are assigned
// monotonically in append order.
func (c *Context) AppendTurn(t Turn) Turn {
	t.Index = len(c.Turns)
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	c.Turns = append(c.Turns, t)
	c.UpdatedAt = t.Timestamp
	return t
}

// LastUserText returns the text of the most recent user turn, or "".
func (c *Context) LastUserText() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			return c.Turns[i].Text
		}
	}
	return ""
}

// RecentMessages converts the newest user/assistant turns into chat messages
// within the given token budget, oldest first. count measures one turn's
// text; counting errors end the walk rather than fail the prompt build.
func (c *Context) RecentMessages(budget int, count func(string) (int, error)) []llm.Message {
	if budget <= 0 {
		return nil
	}

	var reversed []llm.Message
	used := 0
	for i := len(c.Turns) - 1; i >= 0; i-- {
		t := c.Turns[i]
		var role llm.Role
		switch t.Role {
		case RoleUser:
			role = llm.RoleUser
		case RoleAssistant:
			role = llm.RoleAssistant
		default:
			continue
		}
		n, err := count(t.Text)
		if err != nil || used+n > budget {
			break
		}
		used += n
		reversed = append(reversed, llm.Message{Role: role, Content: t.Text})
	}

	out := make([]llm.Message, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out
}
