package prompts

import "fmt"

// compactionTemplate is the prompt sent to the model to summarize a
// conversation span during compaction. The single format verb is the
// conversation text.
const compactionTemplate = `Summarize this conversation concisely. Focus on:
1. Key topics discussed
2. Decisions made or preferences expressed
3. Actions taken (tool calls, files changed, commands run) and their outcomes
4. Any open items or unresolved questions

Keep the summary under 500 words. Use bullet points.

Conversation:
%s

Summary:`

// CompactionPrompt returns the fully interpolated prompt for
// conversation compaction. The caller passes the formatted conversation
// text (role: content pairs) to be summarized.
func CompactionPrompt(conversationText string) string {
	return fmt.Sprintf(compactionTemplate, conversationText)
}

// SummaryPrefix opens every compaction summary message so readers (and
// later compaction passes) can recognize it in a transcript.
const SummaryPrefix = "[Summary of earlier conversation]\n"

// NothingNotable is the sentinel the flush prompt instructs the model
// to return when an interaction contains no facts worth persisting.
const NothingNotable = "NOTHING_NOTABLE"

// flushTemplate asks the model to extract durable facts from the
// conversation span about to be summarized away. One fact per line; the
// sentinel when there are none. The single format verb is the
// conversation text.
const flushTemplate = `Review this conversation and list any durable facts worth keeping in long-term memory: user preferences, project details, decisions, names, or configuration knowledge.

Rules:
- One fact per line, stated as a complete standalone sentence.
- Only include facts useful in FUTURE conversations; skip transient details.
- If nothing is worth remembering, respond with exactly: ` + NothingNotable + `

Conversation:
%s

Facts:`

// MemoryFlushPrompt returns the fully interpolated prompt for the
// pre-compaction memory flush.
func MemoryFlushPrompt(conversationText string) string {
	return fmt.Sprintf(flushTemplate, conversationText)
}
