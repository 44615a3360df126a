package chat

import "persona-chat/internal/domain"

// WindowSize is the number of history entries sent with each completion.
const WindowSize = 10

// buildWindow reduces the last n history entries to {role, content} and
// pairs them with the system instruction.
func buildWindow(system string, entries []domain.Message, n int) domain.Window {
	if n <= 0 {
		n = WindowSize
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	msgs := make([]domain.ChatMessage, 0, len(entries))
	for _, m := range entries {
		msgs = append(msgs, m.ChatMessage())
	}
	return domain.Window{System: system, Messages: msgs}
}
