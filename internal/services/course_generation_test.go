package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/courseforge/courseforge-backend/internal/apperr"
	"github.com/courseforge/courseforge-backend/internal/config"
	"github.com/courseforge/courseforge-backend/internal/logger"
	"github.com/courseforge/courseforge-backend/internal/types"
)

const validOutlineText = `# Go for Beginners

A practical introduction to the Go programming language.

## Getting Started

Tooling and first programs.

### Installing Go (duration: 10 minutes)
### Hello World (duration: 15 minutes)
### The Go Toolchain (duration: 10 minutes)

## Core Language

Syntax and types.

### Variables and Types (duration: 20 minutes)
### Control Flow (duration: 15 minutes)
### Functions (duration: 20 minutes)

## Collections

Working with grouped data.

### Slices (duration: 20 minutes)
### Maps (duration: 15 minutes)
### Structs (duration: 20 minutes)
`

func newCourseService(t *testing.T, env *testEnv, gw *fakeGateway) CourseGenerationService {
	t.Helper()
	svc, err := NewCourseGenerationService(
		env.db, logger.NewNop(), config.Default(), gw, env.credits,
		env.userRepo, env.courseRepo, env.moduleRepo, env.sectionRepo,
	)
	if err != nil {
		t.Fatalf("NewCourseGenerationService: %v", err)
	}
	return svc
}

func TestGenerateCoursePersistsTreeAndDebits(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return validOutlineText, "model-a", nil
		},
	}
	svc := newCourseService(t, env, gw)

	course, err := svc.GenerateCourse(context.Background(), user.ID, CourseGenerationRequest{
		Topic:      "Go",
		Difficulty: "Beginner",
	})
	if err != nil {
		t.Fatalf("GenerateCourse: %v", err)
	}

	if course.Title != "Go for Beginners" {
		t.Fatalf("title: got=%q", course.Title)
	}
	if len(course.Modules) != 3 {
		t.Fatalf("modules: want=3 got=%d", len(course.Modules))
	}
	for i, m := range course.Modules {
		if m.Position != i+1 {
			t.Fatalf("module %d position: got=%d", i, m.Position)
		}
		if len(m.Sections) != 3 {
			t.Fatalf("module %d sections: want=3 got=%d", i, len(m.Sections))
		}
		for _, s := range m.Sections {
			if s.ContentStatus != types.ContentStatusEmpty {
				t.Fatalf("section content status: got=%q", s.ContentStatus)
			}
			if s.Content != nil {
				t.Fatal("section content should be nil at outline time")
			}
		}
	}

	cost := config.Default().Credits.Course
	if got := env.balance(t, user.ID); got != 50-cost {
		t.Fatalf("balance: want=%d got=%d", 50-cost, got)
	}

	// The prompt asks for 6-8 modules; the parser tolerates down to 3.
	if !strings.Contains(gw.lastPrompt, "Between 6 and 8") {
		t.Fatal("prompt missing module count ask")
	}
}

func TestGenerateCourseParseFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return "no headings here, just prose", "model-a", nil
		},
	}
	svc := newCourseService(t, env, gw)

	_, err := svc.GenerateCourse(context.Background(), user.ID, CourseGenerationRequest{Topic: "Go"})
	if !apperr.IsKind(err, apperr.KindParse) {
		t.Fatalf("err kind: got=%v", err)
	}

	courses, err := env.courseRepo.GetByUserID(context.Background(), nil, user.ID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if len(courses) != 0 {
		t.Fatalf("courses persisted: want=0 got=%d", len(courses))
	}
	if got := env.balance(t, user.ID); got != 50 {
		t.Fatalf("balance: want=50 got=%d", got)
	}
}

func TestGenerateCourseValidationFailureReportsViolations(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	// Two modules is below the structural minimum of three.
	shortOutline := `# Tiny Course

Too small.

## Only Module One

### A (duration: 10 minutes)
### B (duration: 10 minutes)
### C (duration: 10 minutes)

## Only Module Two

### D (duration: 10 minutes)
### E (duration: 10 minutes)
### F (duration: 10 minutes)
`
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return shortOutline, "model-a", nil
		},
	}
	svc := newCourseService(t, env, gw)

	_, err := svc.GenerateCourse(context.Background(), user.ID, CourseGenerationRequest{Topic: "Go"})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err kind: got=%v", err)
	}
}

func TestGenerateCourseInsufficientCreditsSkipsGeneration(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 2)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return validOutlineText, "model-a", nil
		},
	}
	svc := newCourseService(t, env, gw)

	_, err := svc.GenerateCourse(context.Background(), user.ID, CourseGenerationRequest{Topic: "Go"})
	if !apperr.IsKind(err, apperr.KindInsufficientCredits) {
		t.Fatalf("err kind: got=%v", err)
	}
	if gw.completeCalls != 0 {
		t.Fatalf("no generation call expected, got=%d", gw.completeCalls)
	}
}

func TestGenerateCourseStripsCodeFences(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, 50)
	gw := &fakeGateway{
		completeFn: func(_ config.GenerationProfile, _ string) (string, string, error) {
			return fmt.Sprintf("```markdown\n%s```", validOutlineText), "model-a", nil
		},
	}
	svc := newCourseService(t, env, gw)

	course, err := svc.GenerateCourse(context.Background(), user.ID, CourseGenerationRequest{Topic: "Go"})
	if err != nil {
		t.Fatalf("GenerateCourse: %v", err)
	}
	if course.Title != "Go for Beginners" {
		t.Fatalf("title: got=%q", course.Title)
	}
}

func TestGetCourseEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser(t, 0)
	other := env.seedUser(t, 0)
	course, _, _ := env.seedCourseTree(t, owner.ID, 3)

	svc := newCourseService(t, env, &fakeGateway{})
	_, err := svc.GetCourse(context.Background(), other.ID, course.ID)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("err kind: got=%v", err)
	}
}
