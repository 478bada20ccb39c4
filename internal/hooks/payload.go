package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Payload size limit for stdin hook input.
const maxPayloadSize = 4 * 1024 * 1024

// ErrInvalidPayload is returned for malformed hook input.
var ErrInvalidPayload = errors.New("invalid hook payload")

// Tool names with special meaning for requirement satisfaction.
const (
	ToolSkill        = "Skill"
	ToolSlashCommand = "SlashCommand"
	ToolBash         = "Bash"
)

// Payload is the JSON document an agent runtime sends to a hook.
type Payload struct {
	SessionID      string         `json:"session_id"`
	TranscriptPath string         `json:"transcript_path,omitempty"`
	CWD            string         `json:"cwd,omitempty"`
	HookEventName  HookType       `json:"hook_event_name"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`

	// Branch and Timestamp are not sent by the runtime; callers may fill them.
	Branch    string    `json:"branch,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ParsePayload decodes and validates a hook payload.
func ParsePayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading: %v", ErrInvalidPayload, err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidPayload, maxPayloadSize)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks required fields and normalizes the hook name.
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidPayload)
	}
	hook, err := ParseHookType(string(p.HookEventName))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.HookEventName = hook
	return nil
}

func (p *Payload) input(keys ...string) string {
	for _, k := range keys {
		if v, ok := p.ToolInput[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// FilePath returns the file the tool operates on, if any.
func (p *Payload) FilePath() string {
	return p.input("file_path", "notebook_path", "path")
}

// Query returns the search pattern, query or URL of a lookup tool.
func (p *Payload) Query() string {
	return p.input("pattern", "query", "url")
}

// Command returns the shell command of a Bash call.
func (p *Payload) Command() string {
	if p.ToolName != ToolBash {
		return ""
	}
	return p.input("command")
}

// CompletedSkill returns the skill or command identifier this event completes.
//
// A Skill or SlashCommand tool call completes its skill; a prompt starting
// with "/" completes the named command.
func (p *Payload) CompletedSkill() string {
	switch p.HookEventName {
	case HookPreToolUse, HookPostToolUse:
		switch p.ToolName {
		case ToolSkill:
			return p.input("skill", "name", "command")
		case ToolSlashCommand:
			return commandName(p.input("command", "name"))
		}
	case HookUserPromptSubmit:
		if strings.HasPrefix(strings.TrimSpace(p.Prompt), "/") {
			return commandName(p.Prompt)
		}
	}
	return ""
}

// commandName extracts "commit" from "/commit -m x".
func commandName(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "/")
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	return s
}
