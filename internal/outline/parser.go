package outline

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultSectionMinutes is used when a section line has no parsable
// duration annotation. Duration is non-critical, so this is a fallback
// rather than a parse failure.
const DefaultSectionMinutes = 10

// ParsedCourse is the typed tree produced from raw outline text. All
// content fields are empty; only titles, descriptions and durations
// are populated at outline time.
type ParsedCourse struct {
	Title       string
	Description string
	Modules     []ParsedModule
}

type ParsedModule struct {
	Title       string
	Description string
	Sections    []ParsedSection
}

type ParsedSection struct {
	Title           string
	DurationMinutes int
}

type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return "outline parse error at line " + strconv.Itoa(e.Line) + ": " + e.Message
	}
	return "outline parse error: " + e.Message
}

var durationRe = regexp.MustCompile(`(?i)[\(\[]?\s*duration:\s*([^\s\)\]]+)\s*(?:minutes?|mins?)?\s*[\)\]]?\s*$`)

// Parse turns constrained heading-based outline text into a course
// tree. Grammar: one H1 (course title), paragraphs under it form the
// description, H2 per module with an optional description paragraph,
// H3 per section with an inline "duration: N minutes" annotation.
func Parse(raw string) (*ParsedCourse, error) {
	lines := strings.Split(raw, "\n")

	course := &ParsedCourse{}
	seenH1 := false
	var currentModule *ParsedModule
	var courseDesc, moduleDesc []string

	flushCourseDesc := func() {
		if len(courseDesc) > 0 {
			course.Description = strings.TrimSpace(strings.Join(courseDesc, " "))
			courseDesc = nil
		}
	}
	flushModuleDesc := func() {
		if currentModule != nil && len(moduleDesc) > 0 {
			currentModule.Description = strings.TrimSpace(strings.Join(moduleDesc, " "))
		}
		moduleDesc = nil
	}
	closeModule := func(line int) error {
		if currentModule == nil {
			return nil
		}
		flushModuleDesc()
		if len(currentModule.Sections) == 0 {
			return &ParseError{Line: line, Message: "module " + strconv.Quote(currentModule.Title) + " has no sections"}
		}
		course.Modules = append(course.Modules, *currentModule)
		currentModule = nil
		return nil
	}

	for i, rawLine := range lines {
		line := strings.TrimSpace(rawLine)
		lineNo := i + 1

		switch {
		case strings.HasPrefix(line, "###"):
			if currentModule == nil {
				return nil, &ParseError{Line: lineNo, Message: "section heading outside of a module"}
			}
			flushModuleDesc()
			title, minutes := parseSectionHeading(strings.TrimSpace(strings.TrimPrefix(line, "###")))
			if title == "" {
				return nil, &ParseError{Line: lineNo, Message: "section heading has no title"}
			}
			currentModule.Sections = append(currentModule.Sections, ParsedSection{
				Title:           title,
				DurationMinutes: minutes,
			})

		case strings.HasPrefix(line, "##"):
			if !seenH1 {
				return nil, &ParseError{Line: lineNo, Message: "module heading before course title"}
			}
			flushCourseDesc()
			if err := closeModule(lineNo); err != nil {
				return nil, err
			}
			title := strings.TrimSpace(strings.TrimPrefix(line, "##"))
			if title == "" {
				return nil, &ParseError{Line: lineNo, Message: "module heading has no title"}
			}
			currentModule = &ParsedModule{Title: title}

		case strings.HasPrefix(line, "#"):
			if seenH1 {
				return nil, &ParseError{Line: lineNo, Message: "multiple course titles"}
			}
			title := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if title == "" {
				return nil, &ParseError{Line: lineNo, Message: "course title is empty"}
			}
			course.Title = title
			seenH1 = true

		case line == "":
			// Paragraph separator; nothing to do.

		default:
			if !seenH1 {
				// Preamble before the title (models sometimes emit one
				// line of chatter); ignored.
				continue
			}
			if currentModule != nil {
				moduleDesc = append(moduleDesc, line)
			} else {
				courseDesc = append(courseDesc, line)
			}
		}
	}

	if !seenH1 {
		return nil, &ParseError{Message: "no course title (H1) found"}
	}
	flushCourseDesc()
	if err := closeModule(len(lines)); err != nil {
		return nil, err
	}
	return course, nil
}

// parseSectionHeading splits a section title from its duration
// annotation. Missing or non-numeric durations fall back to the
// default instead of failing.
func parseSectionHeading(heading string) (string, int) {
	minutes := DefaultSectionMinutes
	title := heading

	if m := durationRe.FindStringSubmatchIndex(heading); m != nil {
		raw := heading[m[2]:m[3]]
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			minutes = n
		}
		title = strings.TrimSpace(heading[:m[0]])
	}

	title = strings.TrimRight(title, " -–:")
	return strings.TrimSpace(title), minutes
}
