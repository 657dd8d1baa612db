package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

func generateSessionID() string {
	u := uuid.New().String()
	return "ses_" + strings.ReplaceAll(u[:8], "-", "")
}

type memorySession struct {
	parentID string
	title    string
	busy     bool
	deleted  bool
	messages []Message
}

// MemoryService is an in-memory Service, Toaster and EventSource. It backs
// the dev gateway mode and the test suites; session state is mutated through
// the Set* helpers instead of a live agent runtime.
type MemoryService struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	subs     []chan Event

	prompts []PromptRecord
	toasts  []Toast

	failPrompt error // when set, returned by PromptAsync
}

// PromptRecord captures one Prompt or PromptAsync call.
type PromptRecord struct {
	SessionID string
	Agent     string
	Text      string
	Async     bool
	Gate      map[string]bool
}

// NewMemoryService creates an empty in-memory session service.
func NewMemoryService() *MemoryService {
	return &MemoryService{sessions: map[string]*memorySession{}}
}

func (m *MemoryService) Create(ctx context.Context, parentID, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := generateSessionID()
	m.sessions[id] = &memorySession{parentID: parentID, title: title, busy: true}
	return id, nil
}

func (m *MemoryService) Fork(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := generateSessionID()
	forked := &memorySession{parentID: sessionID, busy: true}
	if src, ok := m.sessions[sessionID]; ok {
		forked.messages = append(forked.messages, src.messages...)
	}
	m.sessions[id] = forked
	return id, nil
}

func (m *MemoryService) PromptAsync(ctx context.Context, sessionID, agent, text string, gate map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPrompt != nil {
		return m.failPrompt
	}
	m.prompts = append(m.prompts, PromptRecord{SessionID: sessionID, Agent: agent, Text: text, Async: true, Gate: gate})
	if s, ok := m.sessions[sessionID]; ok {
		s.busy = true
		s.messages = append(s.messages, Message{Role: "user", Parts: []Part{{Type: "text", Text: text}}})
	}
	return nil
}

func (m *MemoryService) Prompt(ctx context.Context, sessionID, agent, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, PromptRecord{SessionID: sessionID, Agent: agent, Text: text})
	return nil
}

func (m *MemoryService) Status(ctx context.Context) (map[string]SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]SessionStatus, len(m.sessions))
	for id, s := range m.sessions {
		if s.deleted {
			continue
		}
		st := StatusIdle
		if s.busy {
			st = StatusBusy
		}
		out[id] = SessionStatus{Type: st}
	}
	return out, nil
}

func (m *MemoryService) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]Message(nil), s.messages...), nil
}

func (m *MemoryService) Abort(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.busy = false
	}
	return nil
}

func (m *MemoryService) Exists(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return ok && !s.deleted, nil
}

func (m *MemoryService) ShowToast(ctx context.Context, t Toast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = append(m.toasts, t)
	return nil
}

// Subscribe returns a channel fed by Emit. The channel closes when ctx ends.
func (m *MemoryService) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				break
			}
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

// Emit pushes an event to all subscribers.
func (m *MemoryService) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Register inserts a session with a fixed ID.
func (m *MemoryService) Register(id string, busy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &memorySession{busy: busy}
}

// SetIdle marks a session idle.
func (m *MemoryService) SetIdle(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.busy = false
	}
}

// Delete removes a session from status reports and existence checks.
func (m *MemoryService) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.deleted = true
	}
}

// AddAssistantText appends an assistant text message to a session.
func (m *MemoryService) AddAssistantText(id, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.messages = append(s.messages, Message{Role: "assistant", Parts: []Part{{Type: "text", Text: text}}})
	}
}

// AddToolCall appends an assistant tool invocation to a session.
func (m *MemoryService) AddToolCall(id, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.messages = append(s.messages, Message{Role: "assistant", Parts: []Part{{Type: "tool", Tool: tool}}})
	}
}

// PromptLog returns a copy of the recorded prompts.
func (m *MemoryService) PromptLog() []PromptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PromptRecord(nil), m.prompts...)
}

// ToastLog returns a copy of the recorded toasts.
func (m *MemoryService) ToastLog() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Toast(nil), m.toasts...)
}

// SetFailPrompt makes subsequent PromptAsync calls fail with err.
func (m *MemoryService) SetFailPrompt(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPrompt = err
}
