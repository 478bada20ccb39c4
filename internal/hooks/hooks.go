package hooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// HookType represents an agent hook event type.
type HookType string

const (
	// HookSessionStart is called when a new session starts
	HookSessionStart HookType = "SessionStart"

	// HookPreToolUse is called before a tool runs and may block it
	HookPreToolUse HookType = "PreToolUse"

	// HookPostToolUse is called after a tool has run
	HookPostToolUse HookType = "PostToolUse"

	// HookUserPromptSubmit is called when the user submits a prompt
	HookUserPromptSubmit HookType = "UserPromptSubmit"

	// HookStop is called when the agent finishes responding
	HookStop HookType = "Stop"

	// HookSessionEnd is called when a session ends
	HookSessionEnd HookType = "SessionEnd"
)

// ValidHookTypes returns all valid hook types.
func ValidHookTypes() []HookType {
	return []HookType{
		HookSessionStart, HookPreToolUse, HookPostToolUse,
		HookUserPromptSubmit, HookStop, HookSessionEnd,
	}
}

// ParseHookType parses a string into a HookType, case-insensitive.
func ParseHookType(s string) (HookType, error) {
	lower := strings.ToLower(s)
	for _, h := range ValidHookTypes() {
		if strings.ToLower(string(h)) == lower {
			return h, nil
		}
	}
	return "", fmt.Errorf("unknown hook type %q", s)
}

// HookHandler is a function that handles a hook event
type HookHandler func(ctx context.Context, p *Payload) error

// HookManager manages lifecycle hooks
type HookManager struct {
	mu       sync.RWMutex
	config   *SessionLearningConfig
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a new hook manager
func NewHookManager(config *SessionLearningConfig) *HookManager {
	if config == nil {
		config = DefaultSessionLearningConfig()
	}
	return &HookManager{
		config:   config,
		handlers: make(map[HookType][]HookHandler),
	}
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute executes all handlers for the payload's hook type in registration order.
func (h *HookManager) Execute(ctx context.Context, p *Payload) error {
	h.mu.RLock()
	handlers := append([]HookHandler(nil), h.handlers[p.HookEventName]...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, p); err != nil {
			return fmt.Errorf("hook %s failed: %w", p.HookEventName, err)
		}
	}
	return nil
}

// Config returns the session learning configuration
func (h *HookManager) Config() *SessionLearningConfig {
	return h.config
}
