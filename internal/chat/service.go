package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"llamachat/internal/ai"
)

// Guard errors: surfaced to the caller before any network traffic happens.
var (
	ErrGenerationInFlight = errors.New("chat: a generation is already in flight")
	ErrNoActiveChat       = errors.New("chat: no active chat")
	ErrNoModelSelected    = errors.New("chat: no model selected")
)

// Streamer is the slice of the wire client the service depends on.
type Streamer interface {
	ListModels(ctx context.Context) ([]ai.Model, error)
	SendChatStream(ctx context.Context, model string, turns []ai.Turn, opts ai.Options) (*ai.Stream, error)
}

// Snapshot is an immutable view of the session. Subscribers receive a fresh
// snapshot after every mutation; slices are copies and safe to retain.
type Snapshot struct {
	Chats         []Chat
	Active        *Chat
	Messages      []Message
	Models        []string
	SelectedModel string
	Pending       string // in-progress assistant text during a stream
	Generating    bool
	Loading       bool
	Err           string
}

// Service is the single consumer-facing session API. It composes the repo
// and the wire client behind mutation operations with uniform loading and
// error semantics; the store stays the source of truth and the in-memory
// view is refreshed from it after every write.
type Service struct {
	repo *Repo
	wire Streamer
	log  *zap.Logger

	mu            sync.Mutex
	chats         []Chat
	active        *Chat
	messages      []Message
	models        []string
	selectedModel string
	pending       string
	generating    bool
	loading       bool
	lastErr       string

	subs    map[int]chan Snapshot
	nextSub int
}

func NewService(repo *Repo, wire Streamer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo: repo,
		wire: wire,
		log:  log,
		subs: make(map[int]chan Snapshot),
	}
}

// Subscribe registers an observer. The channel holds the latest snapshot; a
// slow consumer misses intermediate snapshots but never the most recent one.
// The returned func cancels the subscription.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- s.snapshotLocked()
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Snapshot returns the current state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{
		Chats:         append([]Chat(nil), s.chats...),
		Messages:      append([]Message(nil), s.messages...),
		Models:        append([]string(nil), s.models...),
		SelectedModel: s.selectedModel,
		Pending:       s.pending,
		Generating:    s.generating,
		Loading:       s.loading,
		Err:           s.lastErr,
	}
	if s.active != nil {
		c := *s.active
		snap.Active = &c
	}
	return snap
}

func (s *Service) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		// Coalesce: replace a stale pending snapshot instead of blocking.
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Service) beginLoad() {
	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	s.publishLocked()
	s.mu.Unlock()
}

// settle records the outcome of an operation. Loading never stays set once
// an operation has settled, success or failure.
func (s *Service) settle(err error, apply func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
		if apply != nil {
			apply()
		}
	}
	s.publishLocked()
}

// LoadChats refreshes the chat list from the store.
func (s *Service) LoadChats(ctx context.Context) error {
	s.beginLoad()
	chats, err := s.repo.ListChats(ctx)
	s.settle(err, func() { s.chats = chats })
	return err
}

// CreateChat persists a new chat, prepends it to the list and makes it
// active. On failure nothing in the prior state changes.
func (s *Service) CreateChat(ctx context.Context, title, model string) (*Chat, error) {
	s.beginLoad()
	c, err := s.repo.CreateChat(ctx, title, model)
	s.settle(err, func() {
		s.chats = append([]Chat{*c}, s.chats...)
		s.active = c
		s.messages = nil
	})
	return c, err
}

// LoadChat makes the chat with the given id active and loads its messages.
// On any failure the previously active chat stays in place.
func (s *Service) LoadChat(ctx context.Context, id string) error {
	s.beginLoad()
	c, err := s.repo.GetChat(ctx, id)
	var msgs []Message
	if err == nil {
		msgs, err = s.repo.GetMessages(ctx, id)
	}
	s.settle(err, func() {
		s.active = c
		s.messages = msgs
	})
	return err
}

// AddMessage appends a message to the active chat. Without an active chat it
// is a deliberate no-op, not an error.
func (s *Service) AddMessage(ctx context.Context, content, role string) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil
	}
	chatID := s.active.ID
	s.mu.Unlock()

	m, err := s.repo.AddMessage(ctx, chatID, content, role)
	s.settle(err, func() {
		s.messages = append(s.messages, *m)
	})
	if err == nil {
		s.resyncChats(ctx, chatID)
	}
	return err
}

// DeleteChat removes a chat (and, via the store, all its messages). If it
// was the active chat the active view is cleared.
func (s *Service) DeleteChat(ctx context.Context, id string) error {
	err := s.repo.DeleteChat(ctx, id)
	s.settle(err, func() {
		kept := s.chats[:0]
		for _, c := range s.chats {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		s.chats = kept
		if s.active != nil && s.active.ID == id {
			s.active = nil
			s.messages = nil
			s.pending = ""
		}
	})
	return err
}

func (s *Service) UpdateChatTitle(ctx context.Context, id, title string) error {
	err := s.repo.UpdateChatTitle(ctx, id, title)
	s.settle(err, nil)
	if err == nil {
		s.resyncChats(ctx, id)
	}
	return err
}

func (s *Service) UpdateChatSettings(ctx context.Context, id string, sendFullHistory bool) error {
	err := s.repo.UpdateChatSettings(ctx, id, sendFullHistory)
	s.settle(err, nil)
	if err == nil {
		s.resyncChats(ctx, id)
	}
	return err
}

// LoadModels fetches the model list from the endpoint. The first model is
// preselected when nothing is selected yet.
func (s *Service) LoadModels(ctx context.Context) error {
	s.beginLoad()
	models, err := s.wire.ListModels(ctx)
	s.settle(err, func() {
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		s.models = names
		if s.selectedModel == "" && len(names) > 0 {
			s.selectedModel = names[0]
		}
	})
	return err
}

func (s *Service) SelectModel(name string) {
	s.mu.Lock()
	s.selectedModel = name
	s.publishLocked()
	s.mu.Unlock()
}

func (s *Service) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.publishLocked()
	s.mu.Unlock()
}

// resyncChats re-reads the chat list and the given chat from the store so
// cache and store never diverge past one operation.
func (s *Service) resyncChats(ctx context.Context, chatID string) {
	chats, err := s.repo.ListChats(ctx)
	if err != nil {
		s.log.Warn("chat list resync failed", zap.Error(err))
		return
	}
	c, err := s.repo.GetChat(ctx, chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = chats
	if err == nil && s.active != nil && s.active.ID == chatID {
		s.active = c
	}
	s.publishLocked()
}

// SendTurn is the end-to-end path: persist the user turn, stream the
// assistant's reply, persist it on completion. The Generating flag is the
// only admission control for concurrent turns; the store does not serialize
// writers.
func (s *Service) SendTurn(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return ErrGenerationInFlight
	}
	if s.active == nil {
		s.mu.Unlock()
		s.recordErr(ErrNoActiveChat)
		return ErrNoActiveChat
	}
	if s.selectedModel == "" {
		s.mu.Unlock()
		s.recordErr(ErrNoModelSelected)
		return ErrNoModelSelected
	}
	chatID := s.active.ID
	model := s.selectedModel
	sendFull := s.active.SendFullHistory
	prior := append([]Message(nil), s.messages...)
	s.generating = true
	s.lastErr = ""
	s.publishLocked()
	s.mu.Unlock()

	err := s.runTurn(ctx, chatID, model, sendFull, prior, content)

	s.mu.Lock()
	s.generating = false
	s.pending = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.publishLocked()
	s.mu.Unlock()
	return err
}

func (s *Service) runTurn(ctx context.Context, chatID, model string, sendFull bool, prior []Message, content string) error {
	// The user's turn is durable before any network traffic, so it survives
	// a failed generation.
	userMsg, err := s.repo.AddMessage(ctx, chatID, content, RoleUser)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.messages = append(s.messages, *userMsg)
	s.publishLocked()
	s.mu.Unlock()

	var turns []ai.Turn
	if sendFull {
		for _, m := range prior {
			turns = append(turns, ai.Turn{Role: m.Role, Content: m.Content})
		}
	}
	turns = append(turns, ai.Turn{Role: RoleUser, Content: content})

	stream, err := s.wire.SendChatStream(ctx, model, turns, nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.Events() {
		switch ev.Type {
		case ai.EventDelta:
			s.mu.Lock()
			s.pending += ev.Delta
			s.publishLocked()
			s.mu.Unlock()

		case ai.EventComplete:
			asstMsg, err := s.repo.AddMessage(ctx, chatID, ev.Text, RoleAssistant)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.messages = append(s.messages, *asstMsg)
			s.pending = ""
			s.publishLocked()
			s.mu.Unlock()

			if len(prior) == 0 {
				if err := s.repo.UpdateChatTitle(ctx, chatID, titleFor(content)); err != nil {
					s.log.Warn("auto-title failed", zap.String("chat_id", chatID), zap.Error(err))
				}
			}
			s.resyncChats(ctx, chatID)
			return nil

		case ai.EventError:
			return ev.Err
		}
	}
	// The stream was abandoned before its terminal event.
	return ai.ErrIncompleteStream
}

func (s *Service) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.publishLocked()
	s.mu.Unlock()
}

// titleFor derives a chat title from its first user message.
func titleFor(content string) string {
	r := []rune(content)
	if len(r) > 30 {
		return string(r[:30]) + "..."
	}
	return content
}
