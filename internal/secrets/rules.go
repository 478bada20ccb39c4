package secrets

// DefaultRules returns the built-in detection rules. Rules with a
// self-identifying prefix run unconditionally; generic assignments need a
// keyword to keep false positives out of ordinary shell commands.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "aws-access-key-id",
			Pattern:  `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`,
			Severity: "high",
		},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret"},
			Severity: "high",
		},
		{
			ID:       "private-key",
			Pattern:  `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
			Severity: "high",
		},
		{
			ID:       "github-token",
			Pattern:  `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b`,
			Severity: "high",
		},
		{
			ID:       "github-fine-grained",
			Pattern:  `\bgithub_pat_[A-Za-z0-9_]{22,}`,
			Severity: "high",
		},
		{
			ID:       "gitlab-token",
			Pattern:  `\bglpat-[A-Za-z0-9\-]{20,}`,
			Severity: "high",
		},
		{
			ID:       "slack-token",
			Pattern:  `\bxox[baprs]-[A-Za-z0-9\-]{10,}`,
			Severity: "high",
		},
		{
			ID:       "stripe-key",
			Pattern:  `\b(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`,
			Severity: "high",
		},
		{
			ID:       "anthropic-api-key",
			Pattern:  `\bsk-ant-[A-Za-z0-9_\-]{32,}`,
			Severity: "high",
		},
		{
			ID:       "openai-api-key",
			Pattern:  `\bsk-(?:proj-)?[A-Za-z0-9_\-]{40,}`,
			Severity: "high",
		},
		{
			ID:       "npm-token",
			Pattern:  `\bnpm_[A-Za-z0-9]{36}\b`,
			Severity: "high",
		},
		{
			ID:       "jwt",
			Pattern:  `\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`,
			Severity: "medium",
		},
		{
			ID:       "url-credentials",
			Pattern:  `(?i)\b[a-z][a-z0-9+.-]*://[^\s:/@]+:[^\s@/]+@[^\s]+`,
			Severity: "high",
		},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords: []string{"bearer"},
			Severity: "medium",
		},
		{
			ID:       "generic-assignment",
			Pattern:  `(?i)\b[A-Z0-9_]*(?:password|passwd|secret|token|api_?key)[A-Z0-9_]*\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"pass", "secret", "token", "key"},
			Severity: "high",
		},
		{
			ID:       "cli-password-flag",
			Pattern:  `(?i)--(?:password|token|api-key|secret)[= ]\s*['"]?[^\s'"]{6,}['"]?`,
			Keywords: []string{"--"},
			Severity: "high",
		},
	}
}
