package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// completion endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Window is the bounded prompt for one completion call: the persona's system
// instruction followed by the most recent history entries.
type Window struct {
	System   string
	Messages []ChatMessage
}
