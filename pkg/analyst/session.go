package analyst

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

var ErrEmptyMessage = errors.New("analyst: empty message")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature       float64
	MaxTokens         int
	SystemInstruction string
}

// Provider is a hosted chat model.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (string, error)
}

type ProviderFunc func(ctx context.Context, messages []Message, opts Options) (string, error)

func (f ProviderFunc) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	return f(ctx, messages, opts)
}

const (
	DeepDiveInstruction  = "You are an assistive AI Agent for an Event Intelligence Platform. You provide neutral, explainable insights based strictly on data. Your goal is to increase situational awareness for government and NGO users."
	ExplainerInstruction = "You are the Sentinel Intelligence Explainer Agent. Your purpose is to provide situational awareness for high-stakes decision makers. Be objective, precise, and forward-looking."
)

// Session is one analyst conversation. History only ever holds complete
// user/assistant pairs; a failed turn leaves it untouched.
type Session struct {
	opts Options

	mu      sync.Mutex
	id      string
	epoch   uint64
	history []Message
}

func NewSession(opts Options) *Session {
	if opts.SystemInstruction == "" {
		opts.SystemInstruction = DeepDiveInstruction
	}
	return &Session{opts: opts, id: uuid.NewString()}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Reset drops the history and starts a new session id. A reply still in
// flight for the old session is discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.epoch++
	s.id = uuid.NewString()
}

// Send asks p to answer text in the context of the session. When p fails the
// reply carries the chat fallback text and the error is returned alongside it.
func (s *Session) Send(ctx context.Context, p Provider, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	user := Message{Role: RoleUser, Content: text}

	s.mu.Lock()
	epoch, id := s.epoch, s.id
	msgs := make([]Message, 0, len(s.history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: s.opts.SystemInstruction})
	msgs = append(msgs, s.history...)
	msgs = append(msgs, user)
	s.mu.Unlock()

	raw, err := p.Chat(ctx, msgs, s.opts)
	if err != nil {
		log.WithError(err).WithField("session", id).Warn("[analyst] provider failed, using fallback")
		return fallbackReply(FallbackChat), err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.history = append(s.history, user, Message{Role: RoleAssistant, Content: raw})
	}
	s.mu.Unlock()

	return ParseReply(raw), nil
}

// ExplainEvent asks for a one-shot briefing on ev outside any session.
func ExplainEvent(ctx context.Context, p Provider, ev intel.Event) (Reply, error) {
	opts := Options{Temperature: 0.3, SystemInstruction: ExplainerInstruction}
	msgs := []Message{
		{Role: RoleSystem, Content: opts.SystemInstruction},
		{Role: RoleUser, Content: EventBrief(ev)},
	}
	raw, err := p.Chat(ctx, msgs, opts)
	if err != nil {
		log.WithError(err).WithField("event", ev.ID).Warn("[analyst] event explainer failed, using fallback")
		return fallbackReply(FallbackEventExplainer), err
	}
	return ParseReply(raw), nil
}
