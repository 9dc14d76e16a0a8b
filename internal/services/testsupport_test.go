package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/platform/qdrant"
	"github.com/courseforge/courseforge-backend/internal/repos"
	"github.com/courseforge/courseforge-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&types.User{},
		&types.Course{},
		&types.CourseModule{},
		&types.Section{},
		&types.ContentChunk{},
		&types.CreditLedgerEntry{},
		&types.ChatMessage{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db          *gorm.DB
	userRepo    repos.UserRepo
	courseRepo  repos.CourseRepo
	moduleRepo  repos.CourseModuleRepo
	sectionRepo repos.SectionRepo
	chunkRepo   repos.ContentChunkRepo
	ledgerRepo  repos.CreditLedgerRepo
	messageRepo repos.ChatMessageRepo
	credits     CreditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	log := logger.NewNop()
	env := &testEnv{
		db:          db,
		userRepo:    repos.NewUserRepo(db, log),
		courseRepo:  repos.NewCourseRepo(db, log),
		moduleRepo:  repos.NewCourseModuleRepo(db, log),
		sectionRepo: repos.NewSectionRepo(db, log),
		chunkRepo:   repos.NewContentChunkRepo(db, log),
		ledgerRepo:  repos.NewCreditLedgerRepo(db, log),
		messageRepo: repos.NewChatMessageRepo(db, log),
	}
	credits, err := NewCreditService(db, log, env.userRepo, env.ledgerRepo)
	if err != nil {
		t.Fatalf("NewCreditService: %v", err)
	}
	env.credits = credits
	return env
}

func (e *testEnv) seedUser(t *testing.T, credits int) *types.User {
	t.Helper()
	user := &types.User{
		Email:        fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		PasswordHash: "x",
		Credits:      credits,
	}
	created, err := e.userRepo.Create(context.Background(), nil, []*types.User{user})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return created[0]
}

// seedCourseTree creates one course with one module and n sections.
func (e *testEnv) seedCourseTree(t *testing.T, userID uuid.UUID, sectionCount int) (*types.Course, *types.CourseModule, []*types.Section) {
	t.Helper()
	ctx := context.Background()

	courses, err := e.courseRepo.Create(ctx, nil, []*types.Course{{
		UserID:     userID,
		Title:      "Test Course",
		Topic:      "testing",
		Difficulty: "beginner",
	}})
	if err != nil {
		t.Fatalf("seed course: %v", err)
	}
	course := courses[0]

	modules, err := e.moduleRepo.Create(ctx, nil, []*types.CourseModule{{
		CourseID: course.ID,
		Position: 1,
		Title:    "Test Module",
	}})
	if err != nil {
		t.Fatalf("seed module: %v", err)
	}
	module := modules[0]

	sections := make([]*types.Section, 0, sectionCount)
	for i := 0; i < sectionCount; i++ {
		sections = append(sections, &types.Section{
			ModuleID:        module.ID,
			Position:        i + 1,
			Title:           fmt.Sprintf("Section %d", i+1),
			DurationMinutes: 10,
			ContentStatus:   types.ContentStatusEmpty,
		})
	}
	created, err := e.sectionRepo.Create(ctx, nil, sections)
	if err != nil {
		t.Fatalf("seed sections: %v", err)
	}
	return course, module, created
}

func (e *testEnv) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	balance, err := e.credits.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

// fakeGateway implements CompletionGateway with programmable behavior.
// Counter access is locked because the indexer embeds concurrently.
type fakeGateway struct {
	completeFn func(profile config.GenerationProfile, prompt string) (string, string, error)
	streamFn   func(profile config.GenerationProfile, prompt string, onDelta func(string) error) (string, error)
	embedFn    func(text string) ([]float32, error)

	mu            sync.Mutex
	completeCalls int
	streamCalls   int
	embedCalls    int
	lastPrompt    string
}

func (f *fakeGateway) GenerateText(_ context.Context, profile config.GenerationProfile, prompt string) (string, string, error) {
	f.mu.Lock()
	f.completeCalls++
	f.lastPrompt = prompt
	f.mu.Unlock()
	if f.completeFn == nil {
		return "", "", fmt.Errorf("completeFn not set")
	}
	return f.completeFn(profile, prompt)
}

func (f *fakeGateway) GenerateTextStream(_ context.Context, profile config.GenerationProfile, prompt string, onDelta func(string) error) (string, error) {
	f.mu.Lock()
	f.streamCalls++
	f.lastPrompt = prompt
	f.mu.Unlock()
	if f.streamFn == nil {
		return "", fmt.Errorf("streamFn not set")
	}
	return f.streamFn(profile, prompt, onDelta)
}

func (f *fakeGateway) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedFn == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return f.embedFn(text)
}

// fakeVectorStore records calls and serves canned search results.
type fakeVectorStore struct {
	upserted      []qdrant.Point
	deleted       []string
	searchResults []qdrant.Match
	searchFilter  map[string]any
	searchErr     error
	searchCalls   int
}

func (f *fakeVectorStore) EnsureCollection(context.Context) error { return nil }

func (f *fakeVectorStore) Upsert(_ context.Context, points []qdrant.Point) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeVectorStore) DeleteIDs(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, _ int, filter map[string]any) ([]qdrant.Match, error) {
	f.searchCalls++
	f.searchFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults, nil
}
