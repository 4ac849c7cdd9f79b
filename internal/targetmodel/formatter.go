package targetmodel

import "strings"

// RawTextFormatter concatenates the system prompt and generated text with no
// role framing, for target families that expect a bare continuation.
type RawTextFormatter struct{}

func (RawTextFormatter) Format(systemPrompt, generatedTextSoFar string) string {
	if systemPrompt == "" {
		return generatedTextSoFar
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	b.WriteString(generatedTextSoFar)
	return b.String()
}

// HarmonyFormatter renders role-tagged channel framing for target families
// that expect a Harmony-style chat template, applied to the raw completions
// endpoint rather than a chat endpoint (the target is always called via
// completions, per spec §4.3, so the template must be baked into the text).
type HarmonyFormatter struct{}

func (HarmonyFormatter) Format(systemPrompt, generatedTextSoFar string) string {
	var b strings.Builder
	b.WriteString("<|start|>system<|message|>")
	b.WriteString(systemPrompt)
	b.WriteString("<|end|>")
	b.WriteString("<|start|>assistant<|channel|>final<|message|>")
	b.WriteString(generatedTextSoFar)
	return b.String()
}

// Registry selects a PromptFormatter by target-model family substring match,
// data-driven from configuration rather than an inheritance hierarchy.
type Registry struct {
	entries []registryEntry
}

type registryEntry struct {
	familySubstr string
	formatter    PromptFormatter
}

// NewRegistry builds the default family table; families not matched fall
// back to RawTextFormatter.
func NewRegistry() *Registry {
	return &Registry{entries: []registryEntry{
		{familySubstr: "gpt-oss", formatter: HarmonyFormatter{}},
		{familySubstr: "harmony", formatter: HarmonyFormatter{}},
	}}
}

// Register adds or overrides a family's formatter.
func (r *Registry) Register(familySubstr string, f PromptFormatter) {
	r.entries = append(r.entries, registryEntry{familySubstr: familySubstr, formatter: f})
}

// For resolves a target-model identifier to its PromptFormatter.
func (r *Registry) For(modelName string) PromptFormatter {
	lower := strings.ToLower(modelName)
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if strings.Contains(lower, e.familySubstr) {
			return e.formatter
		}
	}
	return RawTextFormatter{}
}
