package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/outline"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

const (
	CreditReasonCourseGeneration  = "course_generation"
	CreditReasonSectionGeneration = "section_generation"
	CreditReasonChatMessage       = "chat_message"
)

type CourseGenerationRequest struct {
	Topic           string `json:"topic"`
	Difficulty      string `json:"difficulty"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CourseGenerationService produces a full course skeleton in one
// operation: prompt, parse, validate, persist. Section content is not
// generated here; every section lands empty and is filled lazily on
// first open.
type CourseGenerationService interface {
	GenerateCourse(ctx context.Context, userID uuid.UUID, req CourseGenerationRequest) (*types.Course, error)
	GetCourse(ctx context.Context, userID uuid.UUID, courseID uuid.UUID) (*types.Course, error)
	ListCourses(ctx context.Context, userID uuid.UUID) ([]*types.Course, error)
}

type courseGenerationService struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         config.Config
	gateway     CompletionGateway
	credits     CreditService
	userRepo    repos.UserRepo
	courseRepo  repos.CourseRepo
	moduleRepo  repos.CourseModuleRepo
	sectionRepo repos.SectionRepo
}

func NewCourseGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Config,
	gateway CompletionGateway,
	credits CreditService,
	userRepo repos.UserRepo,
	courseRepo repos.CourseRepo,
	moduleRepo repos.CourseModuleRepo,
	sectionRepo repos.SectionRepo,
) (CourseGenerationService, error) {
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
	return &courseGenerationService{
		db:          db,
		log:         baseLog.With("service", "CourseGenerationService"),
		cfg:         cfg,
		gateway:     gateway,
		credits:     credits,
		userRepo:    userRepo,
		courseRepo:  courseRepo,
		moduleRepo:  moduleRepo,
		sectionRepo: sectionRepo,
	}, nil
}

func (s *courseGenerationService) GenerateCourse(ctx context.Context, userID uuid.UUID, req CourseGenerationRequest) (*types.Course, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return nil, apperr.New(apperr.KindValidation, "topic is required")
	}
	req.Difficulty = strings.ToLower(strings.TrimSpace(req.Difficulty))
	if req.Difficulty == "" {
		req.Difficulty = "beginner"
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 300
	}

	cost := s.cfg.Credits.Course
	if err := s.checkBalance(ctx, userID, cost); err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	raw, model, err := s.gateway.GenerateText(genCtx, s.cfg.Outline, outlinePrompt(req))
	if err != nil {
		return nil, err
	}
	text := StripCodeFences(raw)

	parsed, err := outline.Parse(text)
	if err != nil {
		var pe *outline.ParseError
		if errors.As(err, &pe) {
			// Keep the raw model output in the log so a recurring
			// malformation is diagnosable without reproduction.
			s.log.Warn("Outline parse failed",
				"user_id", userID.String(),
				"model", model,
				"line", pe.Line,
				"parse_message", pe.Message,
				"raw_output", text,
			)
			return nil, apperr.Wrap(apperr.KindParse, "model produced an unparsable outline", err)
		}
		return nil, apperr.Wrap(apperr.KindParse, "outline parse failed", err)
	}

	if err := outline.Validate(parsed); err != nil {
		var ve *outline.ValidationError
		if errors.As(err, &ve) {
			s.log.Warn("Outline validation failed",
				"user_id", userID.String(),
				"model", model,
				"violations", strings.Join(ve.Violations, "; "),
			)
			return nil, apperr.WithDetails(
				apperr.KindValidation,
				"generated outline violates structural bounds",
				map[string]any{"violations": ve.Violations},
			)
		}
		return nil, apperr.Wrap(apperr.KindValidation, "outline validation failed", err)
	}

	course, err := s.persistCourse(ctx, userID, req, parsed, cost)
	if err != nil {
		return nil, err
	}

	s.log.Info("Course generated",
		"user_id", userID.String(),
		"course_id", course.ID.String(),
		"model", model,
		"modules", len(parsed.Modules),
	)
	return course, nil
}

// persistCourse writes the whole tree and the credit debit in one
// transaction, so a half-written course can never exist.
func (s *courseGenerationService) persistCourse(
	ctx context.Context,
	userID uuid.UUID,
	req CourseGenerationRequest,
	parsed *outline.ParsedCourse,
	cost int,
) (*types.Course, error) {
	var courseID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		course := &types.Course{
			UserID:          userID,
			Title:           parsed.Title,
			Description:     parsed.Description,
			Topic:           req.Topic,
			Difficulty:      req.Difficulty,
			DurationMinutes: req.DurationMinutes,
		}
		created, err := s.courseRepo.Create(ctx, tx, []*types.Course{course})
		if err != nil {
			return err
		}
		courseID = created[0].ID

		for mi, pm := range parsed.Modules {
			module := &types.CourseModule{
				CourseID:    courseID,
				Position:    mi + 1,
				Title:       pm.Title,
				Description: pm.Description,
			}
			createdModules, err := s.moduleRepo.Create(ctx, tx, []*types.CourseModule{module})
			if err != nil {
				return err
			}

			sections := make([]*types.Section, 0, len(pm.Sections))
			for si, ps := range pm.Sections {
				sections = append(sections, &types.Section{
					ModuleID:        createdModules[0].ID,
					Position:        si + 1,
					Title:           ps.Title,
					DurationMinutes: ps.DurationMinutes,
					ContentStatus:   types.ContentStatusEmpty,
				})
			}
			if _, err := s.sectionRepo.Create(ctx, tx, sections); err != nil {
				return err
			}
		}

		return s.credits.Debit(ctx, tx, userID, cost, CreditReasonCourseGeneration)
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindInsufficientCredits) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "persist course tree failed", err)
	}

	course, err := s.courseRepo.GetTree(ctx, nil, courseID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load course tree failed", err)
	}
	return course, nil
}

func (s *courseGenerationService) GetCourse(ctx context.Context, userID uuid.UUID, courseID uuid.UUID) (*types.Course, error) {
	course, err := s.courseRepo.GetTree(ctx, nil, courseID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load course failed", err)
	}
	if course == nil || course.UserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "course not found")
	}
	return course, nil
}

func (s *courseGenerationService) ListCourses(ctx context.Context, userID uuid.UUID) ([]*types.Course, error) {
	courses, err := s.courseRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "list courses failed", err)
	}
	return courses, nil
}

func (s *courseGenerationService) checkBalance(ctx context.Context, userID uuid.UUID, cost int) error {
	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < cost {
		return apperr.InsufficientCredits(cost, balance)
	}
	return nil
}

func outlinePrompt(req CourseGenerationRequest) string {
	var b strings.Builder
	b.WriteString("You are a curriculum designer. Produce a course outline as markdown and nothing else.\n\n")
	fmt.Fprintf(&b, "Topic: %s\nDifficulty: %s\nTarget total duration: %d minutes\n\n", req.Topic, req.Difficulty, req.DurationMinutes)
	b.WriteString("Strict format rules:\n")
	b.WriteString("- Exactly one line starting with \"# \" carrying the course title, followed by a one-paragraph course description.\n")
	b.WriteString("- Between 6 and 8 lines starting with \"## \", one per module, each followed by a one-paragraph module description.\n")
	b.WriteString("- Under each module, between 3 and 5 lines starting with \"### \", one per section, each ending with \"(duration: N minutes)\".\n")
	b.WriteString("- No content under sections, no numbering in headings, no extra markup, no code fences.\n")
	return b.String()
}
