package outline

import (
	"fmt"
	"strings"
)

const (
	MinModules           = 3
	MaxModules           = 8
	MinSectionsPerModule = 3
	MaxSectionsPerModule = 5
)

// ValidationError reports every domain-rule violation found, not just
// the first, so the caller can surface all problems at once.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "outline validation failed: " + strings.Join(e.Violations, "; ")
}

// Validate checks domain rules on an already-parsed course tree.
// Parsing (syntax) and validation (domain rules) are deliberately
// separate stages.
func Validate(course *ParsedCourse) error {
	if course == nil {
		return &ValidationError{Violations: []string{"course is nil"}}
	}

	var violations []string
	if n := len(course.Modules); n < MinModules || n > MaxModules {
		violations = append(violations, fmt.Sprintf(
			"module count %d outside allowed range [%d,%d]", n, MinModules, MaxModules))
	}
	for i, m := range course.Modules {
		if n := len(m.Sections); n < MinSectionsPerModule || n > MaxSectionsPerModule {
			violations = append(violations, fmt.Sprintf(
				"module %d (%q) has %d sections, outside allowed range [%d,%d]",
				i+1, m.Title, n, MinSectionsPerModule, MaxSectionsPerModule))
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
