package errkind

import "errors"

// Explanation is the operator-facing form of an error.
type Explanation struct {
	Category     string
	Cause        string
	Remediations []string
}

var remediations = map[Kind][]string{
	KindConfig: {
		"Check config.json, providers.json and templates/*.yaml for typos or unknown keys",
		"Run `llmrouter doctor` to validate every backend",
		"Remove the offending file to fall back to defaults",
	},
	KindResolution: {
		"List available models with `llmrouter models`",
		"Supply every template variable with --var name=value",
		"Keep context paths inside the configured base_dir",
	},
	KindBackend: {
		"Confirm the backend is running and reachable (ollama serve, llama-cli on PATH)",
		"Verify the API key and base_url in providers.json",
		"Raise timeout_seconds for slow models",
	},
	KindStore: {
		"Make sure no other llmrouter process holds sessions.db",
		"Check free disk space and permissions on the home directory",
	},
	KindCancellation: {
		"Resume the batch or workflow to continue from its checkpoint",
	},
}

var categories = map[Kind]string{
	KindConfig:       "Configuration error",
	KindResolution:   "Could not resolve request",
	KindBackend:      "Backend failure",
	KindStore:        "Session store failure",
	KindCancellation: "Cancelled",
}

// Remediations returns the fixed remediation list for kind.
func Remediations(kind Kind) []string {
	return append([]string(nil), remediations[kind]...)
}

// Explain builds the three-part explanation for err.
func Explain(err error) Explanation {
	if err == nil {
		return Explanation{}
	}
	kind, ok := KindOf(err)
	if !ok {
		return Explanation{Category: "Unexpected error", Cause: err.Error()}
	}

	cause := err.Error()
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		cause = e.Error()
	}
	return Explanation{
		Category:     categories[kind],
		Cause:        cause,
		Remediations: Remediations(kind),
	}
}
