// Package hooks parses agent hook payloads and dispatches lifecycle events.
//
// Supports SessionStart, PreToolUse, PostToolUse, UserPromptSubmit, Stop and
// SessionEnd events. The session_learning block of the policy lives here as
// SessionLearningConfig.
package hooks
