package outline

import (
	"strings"
	"testing"
)

const sampleOutline = `# Python Basics
A gentle introduction to programming with Python.

## Getting Started
Setting up and writing your first program.

### Installing Python (duration: 10 minutes)
### Your First Script (duration: 15 minutes)
### Running Code Interactively (duration: 5 minutes)

## Core Syntax

### Variables and Types (duration: 20 minutes)
### Control Flow (duration: 20 minutes)
### Functions (duration: 25 minutes)

## Working With Data

### Lists and Dictionaries (duration: 20 minutes)
### File Input and Output (duration: 15 minutes)
### Error Handling (duration: 15 minutes)
`

func TestParseWellFormedOutline(t *testing.T) {
	course, err := Parse(sampleOutline)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if course.Title != "Python Basics" {
		t.Fatalf("title: want=%q got=%q", "Python Basics", course.Title)
	}
	if course.Description != "A gentle introduction to programming with Python." {
		t.Fatalf("description: got=%q", course.Description)
	}
	if len(course.Modules) != 3 {
		t.Fatalf("module count: want=3 got=%d", len(course.Modules))
	}

	first := course.Modules[0]
	if first.Title != "Getting Started" {
		t.Fatalf("module title: got=%q", first.Title)
	}
	if first.Description != "Setting up and writing your first program." {
		t.Fatalf("module description: got=%q", first.Description)
	}
	if len(first.Sections) != 3 {
		t.Fatalf("section count: want=3 got=%d", len(first.Sections))
	}
	if first.Sections[0].Title != "Installing Python" {
		t.Fatalf("section title: got=%q", first.Sections[0].Title)
	}
	if first.Sections[0].DurationMinutes != 10 {
		t.Fatalf("section duration: want=10 got=%d", first.Sections[0].DurationMinutes)
	}

	second := course.Modules[1]
	if second.Description != "" {
		t.Fatalf("module without paragraph should have empty description, got=%q", second.Description)
	}
}

func TestParseFailsWithoutH1(t *testing.T) {
	_, err := Parse("## Module One\n### Section (duration: 5 minutes)\n")
	if err == nil {
		t.Fatal("expected parse error for outline without H1")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("error type: got=%T", err)
	}
}

func TestParseFailsOnModuleWithoutSections(t *testing.T) {
	raw := "# Title\n\n## Empty Module\n\n## Real Module\n### A (duration: 5 minutes)\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("expected parse error for module without sections")
	}
	if !strings.Contains(err.Error(), "Empty Module") {
		t.Fatalf("error should name the module: got=%q", err.Error())
	}
}

func TestParseFailsOnSectionOutsideModule(t *testing.T) {
	raw := "# Title\n### Stray Section (duration: 5 minutes)\n"
	_, err := Parse(raw)
	if err == nil {
		t.Fatal("expected parse error for section outside module")
	}
}

func TestParseDurationFallbacks(t *testing.T) {
	cases := []struct {
		heading string
		title   string
		minutes int
	}{
		{"Recursion (duration: 30 minutes)", "Recursion", 30},
		{"Recursion (duration: 1 minute)", "Recursion", 1},
		{"Recursion - duration: 12 minutes", "Recursion", 12},
		{"Recursion", "Recursion", DefaultSectionMinutes},
		{"Recursion (duration: soon)", "Recursion", DefaultSectionMinutes},
	}
	for _, tc := range cases {
		title, minutes := parseSectionHeading(tc.heading)
		if title != tc.title {
			t.Fatalf("heading %q: title want=%q got=%q", tc.heading, tc.title, title)
		}
		if minutes != tc.minutes {
			t.Fatalf("heading %q: minutes want=%d got=%d", tc.heading, tc.minutes, minutes)
		}
	}
}

func TestParseIgnoresPreambleBeforeTitle(t *testing.T) {
	raw := "Here is your course outline:\n\n" + sampleOutline
	course, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if course.Title != "Python Basics" {
		t.Fatalf("title: got=%q", course.Title)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}
