package biz

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// placeholderPattern matches {{variable}} placeholders in template bodies.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// PromptTemplate is one registered prompt template. Every placeholder in
// either prompt body is a required variable.
type PromptTemplate struct {
	ID           string
	SystemPrompt string
	UserPrompt   string
}

// TemplateStore is the default in-process TemplateRenderer binding: a
// registry of named templates with {{var}} interpolation.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*PromptTemplate
}

// NewTemplateStore creates a template store seeded with the built-in
// templates.
func NewTemplateStore() *TemplateStore {
	s := &TemplateStore{templates: make(map[string]*PromptTemplate)}
	for _, t := range builtinTemplates {
		s.templates[t.ID] = t
	}
	return s
}

// Register adds or replaces a template.
func (s *TemplateStore) Register(t *PromptTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

// Render resolves a template and interpolates the context into it. Unknown
// template IDs and missing required variables fail before any upstream call.
func (s *TemplateStore) Render(templateID string, context map[string]string) (*RenderedTemplate, error) {
	s.mu.RLock()
	t, ok := s.templates[templateID]
	s.mu.RUnlock()
	if !ok {
		return nil, &TemplateError{
			Reason:  ReasonTemplateNotFound,
			Message: fmt.Sprintf("template not found: %s", templateID),
		}
	}

	missing := missingVariables(t, context)
	if len(missing) > 0 {
		return nil, &TemplateError{
			Reason:  ReasonMissingContext,
			Message: fmt.Sprintf("missing template variables: %s", strings.Join(missing, ", ")),
		}
	}

	return &RenderedTemplate{
		SystemPrompt: interpolate(t.SystemPrompt, context),
		UserPrompt:   interpolate(t.UserPrompt, context),
	}, nil
}

// missingVariables returns the sorted set of placeholders with no context
// value.
func missingVariables(t *PromptTemplate, context map[string]string) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, body := range []string{t.SystemPrompt, t.UserPrompt} {
		for _, match := range placeholderPattern.FindAllStringSubmatch(body, -1) {
			name := match[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			if _, ok := context[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// interpolate replaces every placeholder with its context value.
func interpolate(body string, context map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return context[name]
	})
}

// builtinTemplates are the templates available without any registration.
var builtinTemplates = []*PromptTemplate{
	{
		ID:           "code_review",
		SystemPrompt: "You are a senior software engineer performing a thorough code review. Focus on correctness, security, and maintainability.",
		UserPrompt:   "Review the following {{language}} code:\n\n{{code}}",
	},
	{
		ID:           "bug_analysis",
		SystemPrompt: "You are a debugging expert. Identify root causes, not just symptoms.",
		UserPrompt:   "Analyze this bug report and the related code.\n\nReport: {{report}}\n\nCode:\n{{code}}",
	},
	{
		ID:           "test_generation",
		SystemPrompt: "You are a QA engineer writing comprehensive automated tests.",
		UserPrompt:   "Write tests for the following {{language}} code:\n\n{{code}}",
	},
	{
		ID:           "architecture_review",
		SystemPrompt: "You are a software architect reviewing a design proposal for scalability and simplicity.",
		UserPrompt:   "Review this design proposal:\n\n{{proposal}}",
	},
}
