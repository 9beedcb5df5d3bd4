// Package chat is the chat orchestrator: it owns sessions and turns a user
// message into a grounded, cited assistant reply.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docrag/internal/apperr"
	"github.com/nikhilbhutani/docrag/internal/audit"
	"github.com/nikhilbhutani/docrag/internal/config"
	"github.com/nikhilbhutani/docrag/internal/llm"
	"github.com/nikhilbhutani/docrag/internal/models"
	"github.com/nikhilbhutani/docrag/internal/rag"
	"github.com/nikhilbhutani/docrag/internal/vectorstore"
)

const (
	maxTitleLen       = 200
	maxMessageLen     = 10000
	fallbackTitleLen  = 50
	defaultMessageCap = 50
	maxMessageCap     = 200
)

type Retriever interface {
	Retrieve(ctx context.Context, cred llm.Credential, orgID uuid.UUID, question string, limit int) ([]vectorstore.SearchResult, error)
	Cite(results []vectorstore.SearchResult) []models.SourceCitation
}

type Completer interface {
	Complete(ctx context.Context, cred llm.Credential, messages []llm.Message) (*llm.ChatResponse, error)
}

type KeyResolver interface {
	ActiveCredential(ctx context.Context, orgID uuid.UUID) (llm.Credential, error)
}

type SessionQuota interface {
	ReserveSession(ctx context.Context, orgID uuid.UUID) error
	ReleaseSession(ctx context.Context, orgID uuid.UUID) error
}

// Locker is satisfied by *cache.Cache.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// Deps are the collaborators of Service. Quota, Audit and Locks may be nil.
type Deps struct {
	Repo      Repository
	Retriever Retriever
	LLM       Completer
	Keys      KeyResolver
	Quota     SessionQuota
	Audit     audit.Recorder
	Locks     Locker
}

type Service struct {
	repo      Repository
	retriever Retriever
	llm       Completer
	keys      KeyResolver
	quota     SessionQuota
	audit     audit.Recorder
	locks     Locker
	cfg       config.ChatConfig
	limit     int
}

func NewService(d Deps, cfg config.ChatConfig, retrievalLimit int) *Service {
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &Service{
		repo:      d.Repo,
		retriever: d.Retriever,
		llm:       d.LLM,
		keys:      d.Keys,
		quota:     d.Quota,
		audit:     d.Audit,
		locks:     d.Locks,
		cfg:       cfg,
		limit:     retrievalLimit,
	}
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", apperr.Validation("title must be at most %d characters", maxTitleLen)
	}
	return title, nil
}

func (s *Service) CreateSession(ctx context.Context, orgID, userID uuid.UUID, title string) (*models.ChatSession, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = models.DefaultSessionTitle
	}

	if s.quota != nil {
		if err := s.quota.ReserveSession(ctx, orgID); err != nil {
			return nil, err
		}
	}

	session := &models.ChatSession{
		ID:             uuid.New(),
		OrganizationID: orgID,
		UserID:         userID,
		Title:          title,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		s.releaseSession(ctx, orgID)
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		UserID:         &userID,
		Action:         audit.ActionChatCreate,
		ResourceType:   "chat_session",
		ResourceID:     &session.ID,
	})
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, orgID, userID, id uuid.UUID) (*models.ChatSession, error) {
	return s.repo.GetSession(ctx, orgID, userID, id)
}

func (s *Service) ListSessions(ctx context.Context, orgID, userID uuid.UUID) ([]models.ChatSession, error) {
	return s.repo.ListSessions(ctx, orgID, userID)
}

func (s *Service) RenameSession(ctx context.Context, orgID, userID, id uuid.UUID, title string) (*models.ChatSession, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	return s.repo.RenameSession(ctx, orgID, userID, id, title)
}

func (s *Service) DeleteSession(ctx context.Context, orgID, userID, id uuid.UUID) error {
	if err := s.repo.DeleteSession(ctx, orgID, userID, id); err != nil {
		return err
	}
	s.releaseSession(ctx, orgID)
	audit.Record(ctx, s.audit, audit.Entry{
		OrganizationID: orgID,
		UserID:         &userID,
		Action:         audit.ActionChatDelete,
		ResourceType:   "chat_session",
		ResourceID:     &id,
	})
	return nil
}

func (s *Service) releaseSession(ctx context.Context, orgID uuid.UUID) {
	if s.quota == nil {
		return
	}
	if err := s.quota.ReleaseSession(context.WithoutCancel(ctx), orgID); err != nil {
		slog.Warn("failed to release session quota", "organization_id", orgID, "error", err)
	}
}

// ListMessages returns the latest limit messages of a session, oldest first.
func (s *Service) ListMessages(ctx context.Context, orgID, userID, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if _, err := s.repo.GetSession(ctx, orgID, userID, sessionID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultMessageCap
	case limit > maxMessageCap:
		limit = maxMessageCap
	}
	return s.repo.RecentMessages(ctx, orgID, sessionID, limit)
}

type Exchange struct {
	UserMessage      *models.ChatMessage `json:"user_message"`
	AssistantMessage *models.ChatMessage `json:"assistant_message"`
}

// PostMessage runs one conversational turn. The user message is stored
// before anything that can fail; the assistant message is stored only when
// an answer was produced, so a failed turn can simply be sent again.
func (s *Service) PostMessage(ctx context.Context, orgID, userID, sessionID uuid.UUID, content string) (*Exchange, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("message must not be empty")
	}
	if utf8.RuneCountInString(content) > maxMessageLen {
		return nil, apperr.Validation("message must be at most %d characters", maxMessageLen)
	}

	session, err := s.repo.GetSession(ctx, orgID, userID, sessionID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	userMsg, history, err := s.recordUserMessage(ctx, orgID, sessionID, content)
	if err != nil {
		return nil, err
	}

	cred, err := s.keys.ActiveCredential(ctx, orgID)
	if err != nil {
		return nil, err
	}

	passages, err := s.retriever.Retrieve(ctx, cred, orgID, content, s.limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	answer := rag.NoContextAnswer
	var sources []models.SourceCitation
	if len(passages) > 0 {
		resp, err := s.llm.Complete(ctx, cred, rag.BuildMessages(content, history, passages))
		if err != nil {
			return nil, fmt.Errorf("generate answer: %w", err)
		}
		answer = resp.Content
		sources = s.retriever.Cite(passages)
	}

	assistantMsg := &models.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   answer,
		Sources:   sources,
	}
	if err := s.repo.AppendMessage(ctx, orgID, assistantMsg); err != nil {
		return nil, fmt.Errorf("store answer: %w", err)
	}

	if s.cfg.AutoTitle && session.Title == models.DefaultSessionTitle {
		s.autoTitle(ctx, cred, session, content)
	}

	return &Exchange{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// recordUserMessage stores the user's message, or reuses it when the same
// text was sent last and never got an answer. It also returns the history
// window that precedes the message.
func (s *Service) recordUserMessage(ctx context.Context, orgID, sessionID uuid.UUID, content string) (*models.ChatMessage, []models.ChatMessage, error) {
	recent, err := s.repo.RecentMessages(ctx, orgID, sessionID, s.cfg.HistoryTurns+1)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}

	if n := len(recent); n > 0 {
		last := recent[n-1]
		if last.Role == models.RoleUser && last.Content == content {
			slog.Info("reusing unanswered user message", "session_id", sessionID, "message_id", last.ID)
			return &last, recent[:n-1], nil
		}
	}

	msg := &models.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   content,
	}
	if err := s.repo.AppendMessage(ctx, orgID, msg); err != nil {
		return nil, nil, fmt.Errorf("store message: %w", err)
	}

	if len(recent) > s.cfg.HistoryTurns {
		recent = recent[len(recent)-s.cfg.HistoryTurns:]
	}
	return msg, recent, nil
}

func lockKey(sessionID uuid.UUID) string {
	return "chat_session:" + sessionID.String()
}

// lock serializes turns of one session. A broken lock backend degrades to
// running unlocked rather than refusing every message.
func (s *Service) lock(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	token, ok, err := s.locks.Acquire(ctx, lockKey(sessionID), s.cfg.LockTTL)
	if err != nil {
		slog.Warn("chat lock unavailable", "session_id", sessionID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, apperr.InvalidState("a message is already being answered in this session")
	}
	return func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), lockKey(sessionID), token); err != nil {
			slog.Warn("failed to release chat lock", "session_id", sessionID, "error", err)
		}
	}, nil
}

// autoTitle names a session after its first exchange. It never fails the
// turn.
func (s *Service) autoTitle(ctx context.Context, cred llm.Credential, session *models.ChatSession, firstMessage string) {
	sessionID := session.ID
	title := ""
	resp, err := s.llm.Complete(ctx, cred, rag.TitleMessages(firstMessage))
	if err == nil {
		title = cleanTitle(resp.Content)
	} else {
		slog.Debug("title generation failed, using message prefix", "session_id", sessionID, "error", err)
	}
	if title == "" {
		title = truncate(firstMessage, fallbackTitleLen)
	}

	if _, err := s.repo.SetTitleIfDefault(context.WithoutCancel(ctx), session.OrganizationID, session.UserID, sessionID, title); err != nil {
		slog.Warn("failed to set session title", "session_id", sessionID, "error", err)
	}
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(strings.SplitN(strings.TrimSpace(s), "\n", 2)[0])
	s = strings.Trim(s, `"'`+"`")
	s = strings.TrimRight(s, ".!?")
	return truncate(strings.TrimSpace(s), fallbackTitleLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
