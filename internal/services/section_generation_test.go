package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/locks"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/types"
)

var longContent = strings.Repeat("Generated section content with substance. ", 20)

func newSectionService(t *testing.T, env *testEnv, gw *fakeGateway, lm locks.Manager) SectionGenerationService {
	t.Helper()
	if lm == nil {
		lm = locks.NewMemoryManager()
	}
	svc, err := NewSectionGenerationService(
		env.db, logger.NewNop(), config.Default(), gw, env.credits, lm, nil,
		env.sectionRepo, env.moduleRepo, env.courseRepo,
	)
	if err != nil {
		t.Fatalf("NewSectionGenerationService: %v", err)
	}
	return svc
}

func TestGenerateSectionPersistsContentAndDebits(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 3)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return longContent, "model-a", nil
		},
	}
	svc := newSectionService(t, env, gw, nil)

	section, err := svc.GenerateSection(context.Background(), user.ID, sections[0].ID)
	if err != nil {
		t.Fatalf("GenerateSection: %v", err)
	}
	if section.ContentStatus != types.ContentStatusReady {
		t.Fatalf("content status: got=%q", section.ContentStatus)
	}
	if section.Content == nil || !strings.Contains(*section.Content, "Generated section content") {
		t.Fatal("content not populated")
	}

	cost := config.Default().Credits.Section
	if got := env.balance(t, user.ID); got != 50-cost {
		t.Fatalf("balance: want=%d got=%d", 50-cost, got)
	}

	// The prompt should mention sibling titles for context.
	if !strings.Contains(gw.lastPrompt, "Section 2") {
		t.Fatal("prompt missing sibling section titles")
	}

	// The structural template is fixed: objectives, worked examples,
	// comparison table, graduated exercises, summary.
	for _, want := range []string{
		"Learning objectives",
		"two worked examples",
		"comparison table",
		"Three practice exercises",
		"summary",
	} {
		if !strings.Contains(gw.lastPrompt, want) {
			t.Fatalf("prompt missing structural element %q", want)
		}
	}
}

func TestGenerateSectionConcurrentCallsGenerateOnce(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			close(entered)
			<-release
			return longContent, "model-a", nil
		},
	}
	svc := newSectionService(t, env, gw, nil)
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GenerateSection(ctx, user.ID, sections[0].ID)
		firstErr <- err
	}()
	// Wait until the first call holds the lock inside generation.
	<-entered

	_, err := svc.GenerateSection(ctx, user.ID, sections[0].ID)
	if !apperr.IsKind(err, apperr.KindAlreadyGenerating) {
		t.Fatalf("second call err kind: got=%v", err)
	}

	close(release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first GenerateSection: %v", err)
	}

	if gw.completeCalls != 1 {
		t.Fatalf("generation calls: want=1 got=%d", gw.completeCalls)
	}
	cost := config.Default().Credits.Section
	if got := env.balance(t, user.ID); got != 50-cost {
		t.Fatalf("balance: want=%d got=%d", 50-cost, got)
	}
}

func TestGenerateSectionSecondCallIsCacheHit(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 3)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return longContent, "model-a", nil
		},
	}
	svc := newSectionService(t, env, gw, nil)
	ctx := context.Background()

	if _, err := svc.GenerateSection(ctx, user.ID, sections[0].ID); err != nil {
		t.Fatalf("first GenerateSection: %v", err)
	}
	balanceAfterFirst := env.balance(t, user.ID)

	section, err := svc.GenerateSection(ctx, user.ID, sections[0].ID)
	if err != nil {
		t.Fatalf("second GenerateSection: %v", err)
	}
	if section.Content == nil {
		t.Fatal("cached content missing")
	}
	if gw.completeCalls != 1 {
		t.Fatalf("generation calls: want=1 got=%d", gw.completeCalls)
	}
	if got := env.balance(t, user.ID); got != balanceAfterFirst {
		t.Fatalf("cache hit must not debit: want=%d got=%d", balanceAfterFirst, got)
	}
}

func TestGenerateSectionLockedReturnsAlreadyGenerating(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 1)
	lm := locks.NewMemoryManager()
	svc := newSectionService(t, env, &fakeGateway{}, lm)
	ctx := context.Background()

	acquired, err := lm.TryAcquire(ctx, sectionLockKey(sections[0].ID))
	if err != nil || !acquired {
		t.Fatalf("pre-acquire lock: acquired=%v err=%v", acquired, err)
	}

	_, err = svc.GenerateSection(ctx, user.ID, sections[0].ID)
	if !apperr.IsKind(err, apperr.KindAlreadyGenerating) {
		t.Fatalf("err kind: got=%v", err)
	}
}

func TestGenerateSectionReleasesLockAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 1)
	lm := locks.NewMemoryManager()
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return "", "", apperr.New(apperr.KindGenerationExhausted, "all models down")
		},
	}
	svc := newSectionService(t, env, gw, lm)
	ctx := context.Background()

	if _, err := svc.GenerateSection(ctx, user.ID, sections[0].ID); err == nil {
		t.Fatal("expected generation failure")
	}

	acquired, err := lm.TryAcquire(ctx, sectionLockKey(sections[0].ID))
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !acquired {
		t.Fatal("lock not released after failure")
	}
}

func TestGenerateSectionShortContentMarksNeedsRetryWithoutDebit(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 1)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return "too short", "model-a", nil
		},
	}
	svc := newSectionService(t, env, gw, nil)
	ctx := context.Background()

	_, err := svc.GenerateSection(ctx, user.ID, sections[0].ID)
	if !apperr.IsKind(err, apperr.KindGenerationExhausted) {
		t.Fatalf("err kind: got=%v", err)
	}

	reloaded, err := env.sectionRepo.GetByIDs(ctx, nil, []uuid.UUID{sections[0].ID})
	if err != nil || len(reloaded) == 0 {
		t.Fatalf("reload section: %v", err)
	}
	if reloaded[0].ContentStatus != types.ContentStatusNeedsRetry {
		t.Fatalf("content status: got=%q", reloaded[0].ContentStatus)
	}
	if got := env.balance(t, user.ID); got != 50 {
		t.Fatalf("balance: want=50 got=%d", got)
	}
}

func TestGenerateSectionOwnershipReadsAsNotFound(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser(t, 50)
	other := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, owner.ID, 1)
	svc := newSectionService(t, env, &fakeGateway{}, nil)

	_, err := svc.GenerateSection(context.Background(), other.ID, sections[0].ID)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err kind: got=%v", err)
	}
}

func TestGenerateSectionStreamForwardsDeltasAndPersists(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 1)
	gw := &fakeGateway{
		streamFn: func(_ config.GenerationProfile, _ string, onDelta func(string) error) (string, error) {
			half := len(longContent) / 2
			if err := onDelta(longContent[:half]); err != nil {
				return "", err
			}
			if err := onDelta(longContent[half:]); err != nil {
				return "", err
			}
			return "model-a", nil
		},
	}
	svc := newSectionService(t, env, gw, nil)
	ctx := context.Background()

	var streamed strings.Builder
	section, err := svc.GenerateSectionStream(ctx, user.ID, sections[0].ID, func(d string) error {
		streamed.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateSectionStream: %v", err)
	}
	if streamed.String() != longContent {
		t.Fatal("streamed deltas do not reassemble the content")
	}
	if section.ContentStatus != types.ContentStatusReady {
		t.Fatalf("content status: got=%q", section.ContentStatus)
	}

	reloaded, err := env.sectionRepo.GetByIDs(ctx, nil, []uuid.UUID{sections[0].ID})
	if err != nil || len(reloaded) == 0 {
		t.Fatalf("reload section: %v", err)
	}
	if reloaded[0].Content == nil || *reloaded[0].Content != strings.TrimSpace(longContent) {
		t.Fatal("persisted content mismatch")
	}
}

func TestGenerateSectionStreamCacheHitReplaysStoredContent(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	_, _, sections := env.seedCourseTree(t, user.ID, 1)
	ctx := context.Background()

	stored := strings.TrimSpace(longContent)
	if err := env.sectionRepo.UpdateFields(ctx, nil, sections[0].ID, map[string]any{
		"content":        stored,
		"content_status": string(types.ContentStatusReady),
	}); err != nil {
		t.Fatalf("seed content: %v", err)
	}

	gw := &fakeGateway{}
	svc := newSectionService(t, env, gw, nil)

	var streamed strings.Builder
	_, err := svc.GenerateSectionStream(ctx, user.ID, sections[0].ID, func(d string) error {
		streamed.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("GenerateSectionStream: %v", err)
	}
	if streamed.String() != stored {
		t.Fatal("cache hit did not replay stored content")
	}
	if gw.streamCalls != 0 {
		t.Fatalf("stream calls: want=0 got=%d", gw.streamCalls)
	}
}
