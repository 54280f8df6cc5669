package schedule

import (
	"time"

	"github.com/termserve/termserve/src/handler/session"
)

// Rule types.
const (
	TypeOneShot  = "one_shot"
	TypeInterval = "interval"
)

// Enter styles for the submit option.
const (
	EnterCR   = "cr"
	EnterLF   = "lf"
	EnterCRLF = "crlf"
)

// Activity policies: what to do when the session is active at fire time.
const (
	PolicyImmediate = "immediate"
	PolicySuppress  = "suppress"
	PolicyDefer     = "defer"
)

// Interval bounds. One-shot delays share the upper bound but may be zero.
const (
	minIntervalMS = 1000
	maxDelayMS    = 7 * 24 * 60 * 60 * 1000
)

const defaultTypingDelayMS = 30

// Options shape how a rule's data is turned into synthesized stdin.
type Options struct {
	// Submit appends an ENTER in the configured style.
	Submit     bool   `json:"submit"`
	EnterStyle string `json:"enter_style,omitempty"`

	// ActivityPolicy gates delivery when the session is active at fire time.
	ActivityPolicy string `json:"activity_policy,omitempty"`

	// SimulateTyping writes the data one rune at a time with a per-character
	// delay.
	SimulateTyping bool `json:"simulate_typing,omitempty"`
	TypingDelayMS  int  `json:"typing_delay_ms,omitempty"`
}

// Rule is one scheduled-input rule bound to a session. One-shot rules fire
// once and are removed; interval rules fire up to StopAfter times.
type Rule struct {
	RuleID    string    `json:"rule_id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	DelayMS   int64     `json:"delay_or_period_ms"`
	Data      string    `json:"data"`
	Options   Options   `json:"options"`
	StopAfter int       `json:"stop_after,omitempty"`
	Paused    bool      `json:"paused"`
	NextRunAt time.Time `json:"next_run_at"`

	fired int
}

// validate normalizes defaults and enforces the rule bounds.
func (r *Rule) validate(maxDataBytes int) error {
	switch r.Type {
	case TypeOneShot:
		if r.DelayMS < 0 || r.DelayMS > maxDelayMS {
			return session.ErrInvalidParams.WithMessage("one_shot delay must be within [0, 7d]")
		}
	case TypeInterval:
		if r.DelayMS < minIntervalMS || r.DelayMS > maxDelayMS {
			return session.ErrInvalidParams.WithMessage("interval must be within [1s, 7d]")
		}
	default:
		return session.ErrInvalidParams.WithMessage("unknown rule type %q", r.Type)
	}

	if len(r.Data) == 0 {
		return session.ErrInvalidParams.WithMessage("rule data must not be empty")
	}
	if len(r.Data) > maxDataBytes {
		return session.ErrScheduleCapExceeded.WithMessage("rule data exceeds %d bytes", maxDataBytes)
	}
	if r.StopAfter < 0 {
		return session.ErrInvalidParams.WithMessage("stop_after must not be negative")
	}

	switch r.Options.EnterStyle {
	case "":
		r.Options.EnterStyle = EnterCR
	case EnterCR, EnterLF, EnterCRLF:
	default:
		return session.ErrInvalidParams.WithMessage("unknown enter_style %q", r.Options.EnterStyle)
	}
	switch r.Options.ActivityPolicy {
	case "":
		r.Options.ActivityPolicy = PolicyImmediate
	case PolicyImmediate, PolicySuppress, PolicyDefer:
	default:
		return session.ErrInvalidParams.WithMessage("unknown activity_policy %q", r.Options.ActivityPolicy)
	}
	if r.Options.TypingDelayMS <= 0 {
		r.Options.TypingDelayMS = defaultTypingDelayMS
	}
	return nil
}

// payload renders the bytes one fire writes to the PTY, enter included.
func (r *Rule) payload() []byte {
	data := []byte(r.Data)
	if !r.Options.Submit {
		return data
	}
	switch r.Options.EnterStyle {
	case EnterLF:
		return append(data, '\n')
	case EnterCRLF:
		return append(data, '\r', '\n')
	default:
		return append(data, '\r')
	}
}
