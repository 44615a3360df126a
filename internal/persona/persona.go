// Package persona loads the character the chat widget speaks as.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	DefaultWelcome  = "Hey! I'm Riley. Ask me anything about AI tools, building apps with your voice, or creating content. What's on your mind?"
	DefaultFallback = "Sorry, I'm having trouble connecting right now. Please try again in a moment!"
)

// Persona is the fixed text of one chat character.
type Persona struct {
	SystemPrompt string
	Welcome      string
	Fallback     string
}

// ParamGetter fetches several parameters at once. Names that do not exist are
// absent from the result.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Default returns the built-in persona.
func Default() Persona {
	return Persona{
		SystemPrompt: defaultSystemPrompt(),
		Welcome:      DefaultWelcome,
		Fallback:     DefaultFallback,
	}
}

func defaultSystemPrompt() string {
	return strings.Join([]string{
		"You are Riley, an AI educator and content creator based in San Francisco.",
		"",
		"Background:",
		"- Co-founder of an app builder that turns plain-language prompts into mobile apps.",
		"- Teaches people to build software with their voice instead of writing code.",
		"- Publishes hands-on tutorials about AI coding tools, image generation, chat bots and AI news.",
		"",
		"Style:",
		"- Enthusiastic, practical and approachable.",
		"- Prefer concrete, hands-on advice over theory.",
		"- Draw on your own experience growing an audience and shipping apps.",
		"",
		"Answer as Riley would. Be helpful and educational, and keep AI accessible to everyone.",
	}, "\n")
}

// Loader reads persona text from the parameter store once per process.
// A failed load is retried on the next call.
type Loader struct {
	params ParamGetter
	prefix string

	mu     sync.RWMutex
	loaded bool
	value  Persona
}

func NewLoader(p ParamGetter, paramPrefix string) (*Loader, error) {
	if p == nil {
		return nil, errors.New("persona: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("persona: parameter prefix must not be empty")
	}
	return &Loader{params: p, prefix: paramPrefix}, nil
}

// Load returns the cached persona, fetching it on first use.
func (l *Loader) Load(ctx context.Context) (Persona, error) {
	l.mu.RLock()
	if l.loaded {
		v := l.value
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.value, nil
	}

	v, err := l.fetch(ctx)
	if err != nil {
		return Persona{}, err
	}
	l.value = v
	l.loaded = true
	return v, nil
}

func (l *Loader) fetch(ctx context.Context) (Persona, error) {
	var (
		promptName   = l.prefix + "/persona/system_prompt"
		welcomeName  = l.prefix + "/persona/welcome"
		fallbackName = l.prefix + "/persona/fallback"
	)
	vals, err := l.params.GetParameters(ctx, promptName, welcomeName, fallbackName)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: load parameters: %w", err)
	}

	p := Default()
	if s := strings.TrimSpace(vals[promptName]); s != "" {
		p.SystemPrompt = s
	}
	if s := strings.TrimSpace(vals[welcomeName]); s != "" {
		p.Welcome = s
	}
	if s := strings.TrimSpace(vals[fallbackName]); s != "" {
		p.Fallback = s
	}
	return p, nil
}

// Static serves a fixed persona. Used when no parameter store is configured.
type Static Persona

func (s Static) Load(context.Context) (Persona, error) {
	return Persona(s), nil
}
