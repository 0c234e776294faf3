package usecase

import (
	"strings"

	"semantic-chat/internal/domain"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"

	systemPrompt = "You are an AI assistant that helps people find information. " +
		"Provide concise answers that are polite and professional."

	summarizePrompt = "Summarize this text. One to three words maximum length. " +
		"Plain text only. No punctuation, markup or tags."

	// promptDelimiter joins window prompts into the text that is embedded.
	promptDelimiter = "\n"
)

var (
	answerSampling    = domain.Sampling{Temperature: 0.2, TopP: 0.7, MaxTokens: 1000}
	summarizeSampling = domain.Sampling{Temperature: 0, TopP: 1, MaxTokens: 100}
)

// buildPromptMessages replays the window as alternating user and assistant
// messages after the system instruction.
func buildPromptMessages(instruction string, window []domain.Message) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 1+2*len(window))
	messages = append(messages, domain.ChatMessage{Role: roleSystem, Content: instruction})
	for _, m := range window {
		messages = append(messages, historyToPromptMessages(m)...)
	}
	return messages
}

// historyToPromptMessages always replays the prompt; the completion only when
// one was produced.
func historyToPromptMessages(m domain.Message) []domain.ChatMessage {
	out := []domain.ChatMessage{{Role: roleUser, Content: m.Prompt}}
	if m.Completion != "" {
		out = append(out, domain.ChatMessage{Role: roleAssistant, Content: m.Completion})
	}
	return out
}

// windowPrompts is the text embedded for a cache lookup. Completions are left
// out.
func windowPrompts(window []domain.Message) string {
	prompts := make([]string, 0, len(window))
	for _, m := range window {
		prompts = append(prompts, m.Prompt)
	}
	return strings.Join(prompts, promptDelimiter)
}

func conversationText(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Prompt+" "+m.Completion)
	}
	return strings.Join(lines, "\n")
}

func buildSummarizeMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: roleSystem, Content: summarizePrompt},
		{Role: roleUser, Content: text},
	}
}

// normalizeSessionName trims the engine's summary to a single line.
func normalizeSessionName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
