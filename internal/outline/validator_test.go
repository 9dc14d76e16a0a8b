package outline

import (
	"strings"
	"testing"
)

func buildCourse(moduleCount, sectionsPerModule int) *ParsedCourse {
	c := &ParsedCourse{Title: "T"}
	for i := 0; i < moduleCount; i++ {
		m := ParsedModule{Title: "M"}
		for j := 0; j < sectionsPerModule; j++ {
			m.Sections = append(m.Sections, ParsedSection{Title: "S", DurationMinutes: 10})
		}
		c.Modules = append(c.Modules, m)
	}
	return c
}

func TestValidateAcceptsInRangeCourse(t *testing.T) {
	for _, modules := range []int{3, 5, 8} {
		for _, sections := range []int{3, 4, 5} {
			if err := Validate(buildCourse(modules, sections)); err != nil {
				t.Fatalf("modules=%d sections=%d: unexpected error %v", modules, sections, err)
			}
		}
	}
}

func TestValidateRejectsModuleCountOutOfRange(t *testing.T) {
	for _, modules := range []int{0, 2, 9} {
		err := Validate(buildCourse(modules, 4))
		if err == nil {
			t.Fatalf("modules=%d: expected validation error", modules)
		}
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	// Two modules (too few) and each with too many sections: three
	// violations total, all reported at once.
	c := buildCourse(2, 6)
	err := Validate(c)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type: got=%T", err)
	}
	if len(ve.Violations) != 3 {
		t.Fatalf("violations: want=3 got=%d (%v)", len(ve.Violations), ve.Violations)
	}
	if !strings.Contains(ve.Violations[0], "module count") {
		t.Fatalf("first violation should be module count: got=%q", ve.Violations[0])
	}
}
