package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/locks"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

// SectionGenerationService fills section content lazily: the first
// open of a section generates it, every later open is a cache hit. A
// per-section lock keeps concurrent opens from generating (and
// charging for) the same content twice.
type SectionGenerationService interface {
	GenerateSection(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID) (*types.Section, error)
	// GenerateSectionStream behaves like GenerateSection but forwards
	// content deltas as they arrive. Persistence and the credit debit
	// happen only after the stream completes naturally; a cache hit
	// replays the stored content as a single delta.
	GenerateSectionStream(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID, onDelta func(delta string) error) (*types.Section, error)
	MarkCompleted(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID, completed bool) error
}

type sectionGenerationService struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         config.Config
	gateway     CompletionGateway
	credits     CreditService
	lockManager locks.Manager
	indexQueue  *IndexQueue
	sectionRepo repos.SectionRepo
	moduleRepo  repos.CourseModuleRepo
	courseRepo  repos.CourseRepo
}

func NewSectionGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Config,
	gateway CompletionGateway,
	credits CreditService,
	lockManager locks.Manager,
	indexQueue *IndexQueue,
	sectionRepo repos.SectionRepo,
	moduleRepo repos.CourseModuleRepo,
	courseRepo repos.CourseRepo,
) (SectionGenerationService, error) {
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
	if lockManager == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	return &sectionGenerationService{
		db:          db,
		log:         baseLog.With("service", "SectionGenerationService"),
		cfg:         cfg,
		gateway:     gateway,
		credits:     credits,
		lockManager: lockManager,
		indexQueue:  indexQueue,
		sectionRepo: sectionRepo,
		moduleRepo:  moduleRepo,
		courseRepo:  courseRepo,
	}, nil
}

func sectionLockKey(sectionID uuid.UUID) string {
	return "section:generate:" + sectionID.String()
}

// sectionContext is everything a generation prompt needs around one
// section, resolved with an ownership check.
type sectionContext struct {
	section  *types.Section
	module   *types.CourseModule
	course   *types.Course
	siblings []*types.Section
}

func (s *sectionGenerationService) GenerateSection(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID) (*types.Section, error) {
	return s.generate(ctx, userID, sectionID, nil)
}

func (s *sectionGenerationService) GenerateSectionStream(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID, onDelta func(delta string) error) (*types.Section, error) {
	if onDelta == nil {
		return nil, apperr.New(apperr.KindValidation, "delta callback required")
	}
	return s.generate(ctx, userID, sectionID, onDelta)
}

func (s *sectionGenerationService) generate(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID, onDelta func(delta string) error) (*types.Section, error) {
	sc, err := s.resolve(ctx, userID, sectionID)
	if err != nil {
		return nil, err
	}

	if hit := s.cached(sc.section); hit != nil {
		if onDelta != nil {
			if err := onDelta(*hit.Content); err != nil {
				return nil, err
			}
		}
		return hit, nil
	}

	key := sectionLockKey(sectionID)
	acquired, err := s.lockManager.TryAcquire(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "acquire generation lock failed", err)
	}
	if !acquired {
		return nil, apperr.New(apperr.KindAlreadyGenerating, "section is already being generated")
	}
	defer func() {
		// Release must not be lost to a canceled request context.
		if err := s.lockManager.Release(context.WithoutCancel(ctx), key); err != nil {
			s.log.Error("Generation lock release failed",
				"section_id", sectionID.String(),
				"error", err.Error(),
			)
		}
	}()

	// Another request may have finished generating while this one
	// waited on the lock.
	fresh, err := s.resolve(ctx, userID, sectionID)
	if err != nil {
		return nil, err
	}
	sc = fresh
	if hit := s.cached(sc.section); hit != nil {
		if onDelta != nil {
			if err := onDelta(*hit.Content); err != nil {
				return nil, err
			}
		}
		return hit, nil
	}

	cost := s.cfg.Credits.Section
	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		return nil, apperr.InsufficientCredits(cost, balance)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	prompt := sectionPrompt(sc)
	var content string
	var model string
	if onDelta == nil {
		content, model, err = s.gateway.GenerateText(genCtx, s.cfg.Section, prompt)
	} else {
		var sb strings.Builder
		model, err = s.gateway.GenerateTextStream(genCtx, s.cfg.Section, prompt, func(delta string) error {
			sb.WriteString(delta)
			return onDelta(delta)
		})
		content = sb.String()
	}
	if err != nil {
		return nil, err
	}
	content = StripCodeFences(content)

	if len(content) < s.cfg.MinContentLength {
		// Persist the status so the next open retries instead of
		// serving a stub, but charge nothing.
		if uErr := s.sectionRepo.UpdateFields(ctx, nil, sectionID, map[string]any{
			"content_status": string(types.ContentStatusNeedsRetry),
		}); uErr != nil {
			s.log.Error("Mark needs_retry failed", "section_id", sectionID.String(), "error", uErr.Error())
		}
		s.log.Warn("Generated content below minimum length",
			"section_id", sectionID.String(),
			"model", model,
			"length", len(content),
		)
		return nil, apperr.New(apperr.KindGenerationExhausted, "generated content too short")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sectionRepo.UpdateFields(ctx, tx, sectionID, map[string]any{
			"content":        content,
			"content_status": string(types.ContentStatusReady),
		}); err != nil {
			return err
		}
		return s.credits.Debit(ctx, tx, userID, cost, CreditReasonSectionGeneration)
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindInsufficientCredits) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "persist section content failed", err)
	}

	if s.indexQueue != nil {
		s.indexQueue.Enqueue(sectionID)
	}

	s.log.Info("Section content generated",
		"section_id", sectionID.String(),
		"model", model,
		"length", len(content),
	)

	sc.section.Content = &content
	sc.section.ContentStatus = types.ContentStatusReady
	return sc.section, nil
}

// cached returns the section when its stored content is servable
// as-is.
func (s *sectionGenerationService) cached(section *types.Section) *types.Section {
	if section.ContentStatus != types.ContentStatusReady {
		return nil
	}
	if section.Content == nil || len(*section.Content) < s.cfg.MinContentLength {
		return nil
	}
	return section
}

func (s *sectionGenerationService) resolve(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID) (*sectionContext, error) {
	sections, err := s.sectionRepo.GetByIDs(ctx, nil, []uuid.UUID{sectionID})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load section failed", err)
	}
	if len(sections) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "section not found")
	}
	section := sections[0]

	modules, err := s.moduleRepo.GetByIDs(ctx, nil, []uuid.UUID{section.ModuleID})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load module failed", err)
	}
	if len(modules) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "module not found")
	}
	module := modules[0]

	courses, err := s.courseRepo.GetByIDs(ctx, nil, []uuid.UUID{module.CourseID})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load course failed", err)
	}
	if len(courses) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "course not found")
	}
	course := courses[0]

	// Ownership failures read as not_found so section IDs are not
	// probeable across accounts.
	if course.UserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "section not found")
	}

	siblings, err := s.sectionRepo.GetByModuleIDs(ctx, nil, []uuid.UUID{module.ID})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load sibling sections failed", err)
	}

	return &sectionContext{section: section, module: module, course: course, siblings: siblings}, nil
}

func (s *sectionGenerationService) MarkCompleted(ctx context.Context, userID uuid.UUID, sectionID uuid.UUID, completed bool) error {
	if _, err := s.resolve(ctx, userID, sectionID); err != nil {
		return err
	}
	if err := s.sectionRepo.UpdateFields(ctx, nil, sectionID, map[string]any{"completed": completed}); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "update completion failed", err)
	}
	return nil
}

func sectionPrompt(sc *sectionContext) string {
	var b strings.Builder
	b.WriteString("You are writing one section of a learning course. Write the section content as markdown, nothing else.\n\n")
	fmt.Fprintf(&b, "Course: %s (topic: %s, difficulty: %s)\n", sc.course.Title, sc.course.Topic, sc.course.Difficulty)
	fmt.Fprintf(&b, "Module: %s\n", sc.module.Title)
	if sc.module.Description != "" {
		fmt.Fprintf(&b, "Module description: %s\n", sc.module.Description)
	}
	fmt.Fprintf(&b, "Section to write: %s (planned duration: %d minutes)\n", sc.section.Title, sc.section.DurationMinutes)

	if len(sc.siblings) > 1 {
		b.WriteString("Other sections in this module, for context only, do not cover their material:\n")
		for _, sib := range sc.siblings {
			if sib.ID == sc.section.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", sib.Title)
		}
	}

	b.WriteString("\nStructure, in order:\n")
	b.WriteString("1. Learning objectives for this section.\n")
	b.WriteString("2. Theory and core concepts, with at least two worked examples.\n")
	b.WriteString("3. A comparison table contrasting the key concepts or approaches.\n")
	b.WriteString("4. Three practice exercises of graduated difficulty.\n")
	b.WriteString("5. A short summary of the main points.\n")
	fmt.Fprintf(&b, "Length: aim for roughly %d minutes of reading and practice.\n", sc.section.DurationMinutes)
	b.WriteString("Use ## and ### headings inside the section. Do not repeat the section title as a heading. No code fences around the whole output.\n")
	return b.String()
}
