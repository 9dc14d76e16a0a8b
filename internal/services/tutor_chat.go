package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/qdrant"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

type ChatRequest struct {
	Question  string     `json:"question"`
	CourseID  *uuid.UUID `json:"course_id,omitempty"`
	SectionID *uuid.UUID `json:"section_id,omitempty"`
}

// TutorChatService answers learner questions grounded in their own
// generated course content. Grounding is best-effort: when the
// question cannot be embedded or nothing relevant is indexed, the
// tutor still answers from the conversation alone.
type TutorChatService interface {
	Ask(ctx context.Context, userID uuid.UUID, req ChatRequest) (*types.ChatMessage, error)
	// AskStream forwards answer deltas as they arrive. The exchange is
	// persisted and charged only when the stream completes naturally.
	AskStream(ctx context.Context, userID uuid.UUID, req ChatRequest, onDelta func(delta string) error) (*types.ChatMessage, error)
	History(ctx context.Context, userID uuid.UUID, courseID *uuid.UUID, limit int) ([]*types.ChatMessage, error)
}

type tutorChatService struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         config.Config
	gateway     CompletionGateway
	credits     CreditService
	vectorStore qdrant.VectorStore
	messageRepo repos.ChatMessageRepo
}

func NewTutorChatService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Config,
	gateway CompletionGateway,
	credits CreditService,
	vectorStore qdrant.VectorStore,
	messageRepo repos.ChatMessageRepo,
) (TutorChatService, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("completion gateway required")
	}
	if credits == nil {
		return nil, fmt.Errorf("credit service required")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store required")
	}
	return &tutorChatService{
		db:          db,
		log:         baseLog.With("service", "TutorChatService"),
		cfg:         cfg,
		gateway:     gateway,
		credits:     credits,
		vectorStore: vectorStore,
		messageRepo: messageRepo,
	}, nil
}

func (s *tutorChatService) Ask(ctx context.Context, userID uuid.UUID, req ChatRequest) (*types.ChatMessage, error) {
	return s.ask(ctx, userID, req, nil)
}

func (s *tutorChatService) AskStream(ctx context.Context, userID uuid.UUID, req ChatRequest, onDelta func(delta string) error) (*types.ChatMessage, error) {
	if onDelta == nil {
		return nil, apperr.New(apperr.KindValidation, "delta callback required")
	}
	return s.ask(ctx, userID, req, onDelta)
}

func (s *tutorChatService) ask(ctx context.Context, userID uuid.UUID, req ChatRequest, onDelta func(delta string) error) (*types.ChatMessage, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperr.New(apperr.KindValidation, "question is required")
	}

	cost := s.cfg.Credits.ChatMessage
	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, apperr.InsufficientCredits(cost, balance)
	}

	passages := s.retrieve(ctx, userID, req.CourseID, question)

	history, err := s.messageRepo.GetRecent(ctx, nil, userID, req.CourseID, s.cfg.ChatOps.HistoryWindow)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load chat history failed", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	prompt := tutorPrompt(passages, history, question)
	var answer string
	var model string
	if onDelta == nil {
		answer, model, err = s.gateway.GenerateText(genCtx, s.cfg.Chat, prompt)
	} else {
		var sb strings.Builder
		model, err = s.gateway.GenerateTextStream(genCtx, s.cfg.Chat, prompt, func(delta string) error {
			sb.WriteString(delta)
			return onDelta(delta)
		})
		answer = sb.String()
	}
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, apperr.New(apperr.KindGenerationExhausted, "model returned an empty answer")
	}

	// Explicit timestamps keep the pair strictly ordered; batch
	// creation would stamp both with the same instant.
	now := time.Now()
	userMsg := &types.ChatMessage{
		UserID:    userID,
		CourseID:  req.CourseID,
		SectionID: req.SectionID,
		Role:      "user",
		Content:   question,
		CreatedAt: now,
	}
	assistantMsg := &types.ChatMessage{
		UserID:    userID,
		CourseID:  req.CourseID,
		SectionID: req.SectionID,
		Role:      "assistant",
		Content:   answer,
		CreatedAt: now.Add(time.Millisecond),
	}

	if onDelta == nil {
		// One-shot: the answer already reached the caller's hands, so a
		// history write failure must not discard it. Debit in its own
		// transaction; persist history best-effort.
		if err := s.credits.Debit(ctx, nil, userID, cost, CreditReasonChatMessage); err != nil {
			return nil, err
		}
		if _, err := s.messageRepo.Create(ctx, nil, []*types.ChatMessage{userMsg, assistantMsg}); err != nil {
			s.log.Warn("Persist chat exchange failed, answer returned anyway",
				"user_id", userID.String(),
				"error", err.Error(),
			)
		}
	} else {
		// Streaming: the exchange is charged and recorded together only
		// when the stream completed naturally.
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.messageRepo.Create(ctx, tx, []*types.ChatMessage{userMsg, assistantMsg}); err != nil {
				return err
			}
			return s.credits.Debit(ctx, tx, userID, cost, CreditReasonChatMessage)
		})
		if err != nil {
			if apperr.IsKind(err, apperr.KindInsufficientCredits) {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.KindPersistence, "persist chat exchange failed", err)
		}
	}

	s.log.Info("Tutor exchange completed",
		"user_id", userID.String(),
		"model", model,
		"grounded", len(passages) > 0,
		"passages", len(passages),
	)
	return assistantMsg, nil
}

// retrieve embeds the question and searches the user's own chunks.
// Every failure path degrades to an ungrounded answer rather than
// failing the chat.
func (s *tutorChatService) retrieve(ctx context.Context, userID uuid.UUID, courseID *uuid.UUID, question string) []string {
	vec, err := s.gateway.EmbedText(ctx, question)
	if err != nil {
		s.log.Warn("Question embedding failed, answering ungrounded", "error", err.Error())
		return nil
	}

	filter := map[string]any{"user_id": userID.String()}
	if courseID != nil {
		filter["course_id"] = courseID.String()
	}

	matches, err := s.vectorStore.Search(ctx, vec, s.cfg.ChatOps.RetrievalTopK, filter)
	if err != nil {
		s.log.Warn("Vector search failed, answering ungrounded", "error", err.Error())
		return nil
	}

	passages := make([]string, 0, len(matches))
	for _, m := range matches {
		if text, ok := m.Payload["text"].(string); ok && strings.TrimSpace(text) != "" {
			passages = append(passages, text)
		}
	}
	return passages
}

func (s *tutorChatService) History(ctx context.Context, userID uuid.UUID, courseID *uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = s.cfg.ChatOps.HistoryWindow
	}
	messages, err := s.messageRepo.GetRecent(ctx, nil, userID, courseID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load chat history failed", err)
	}
	return messages, nil
}

func tutorPrompt(passages []string, history []*types.ChatMessage, question string) string {
	var b strings.Builder
	b.WriteString("You are a patient tutor helping a learner through their course. ")
	b.WriteString("Answer clearly and concretely. Prefer the provided course material; when it does not cover the question, say so and answer from general knowledge.\n\n")

	if len(passages) > 0 {
		b.WriteString("Course material:\n")
		for i, p := range passages {
			fmt.Fprintf(&b, "[%d] %s\n\n", i+1, p)
		}
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			role := "Learner"
			if m.Role == "assistant" {
				role = "Tutor"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Learner: %s\nTutor:", question)
	return b.String()
}
