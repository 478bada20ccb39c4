// Package secrets detects and redacts credentials before reqgate persists
// text it did not author: recorded Bash commands, prompts, and
// recommendation content written into guidance artifacts.
//
// Findings keep rule ids and counts so callers can log what was removed
// without logging the value itself.
package secrets
