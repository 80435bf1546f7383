package harness

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/multierr"
)

const redacted = "[REDACTED]"

// Guardrails holds the tool allowlist and masks secrets before anything is logged or audited.
type Guardrails struct {
	mu            sync.RWMutex
	allowlist     map[string]bool
	redact        bool
	outputFilters []outputFilter
	jsonValidator *JSONValidator
}

type outputFilter struct {
	pattern     *regexp.Regexp
	replacement string
}

// NewGuardrails creates guardrails with an empty allowlist. With redact off,
// SanitizeOutput returns its input unchanged.
func NewGuardrails(redact bool) *Guardrails {
	return &Guardrails{
		allowlist: make(map[string]bool),
		redact:    redact,
		outputFilters: []outputFilter{
			// JSON members such as "api_key": "abc"
			{regexp.MustCompile(`(?i)("(?:[a-z_-]*password|api[_-]?key|[a-z_-]*secret|[a-z_-]*token|authorization)"\s*:\s*)"[^"]*"`), `${1}"` + redacted + `"`},
			{regexp.MustCompile(`(?i)(password[:=]\s*)[^\s",}]+`), "${1}" + redacted},
			{regexp.MustCompile(`(?i)(api[_-]?key[:=]\s*)[^\s",}]+`), "${1}" + redacted},
			{regexp.MustCompile(`(?i)(secret[:=]\s*)[^\s",}]+`), "${1}" + redacted},
			{regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/-]+=*`), "${1}" + redacted},
		},
		jsonValidator: NewJSONValidator(),
	}
}

// SetAllowlist replaces the allowlist with names.
func (g *Guardrails) SetAllowlist(names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowlist = make(map[string]bool, len(names))
	for _, n := range names {
		g.allowlist[n] = true
	}
}

// AddAllowedTool adds a tool to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowlist[name] = true
}

// RemoveAllowedTool removes a tool from the allowlist.
func (g *Guardrails) RemoveAllowedTool(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.allowlist, name)
}

// Allowed lists the allowlist in sorted order.
func (g *Guardrails) Allowed() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.allowlist))
	for n := range g.allowlist {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CheckTool fails with NotFoundError for a tool outside the allowlist.
func (g *Guardrails) CheckTool(name string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.allowlist[name] {
		return &ports.NotFoundError{Name: name}
	}
	return nil
}

// Validator exposes the schema validator used for dispatcher payloads.
func (g *Guardrails) Validator() *JSONValidator {
	return g.jsonValidator
}

// SanitizeOutput masks credentials in text headed for logs or the audit table.
func (g *Guardrails) SanitizeOutput(output string) string {
	if !g.redact {
		return output
	}
	sanitized := output
	for _, f := range g.outputFilters {
		sanitized = f.pattern.ReplaceAllString(sanitized, f.replacement)
	}
	return sanitized
}

// JSONValidator checks documents against a JSON Schema.
type JSONValidator struct{}

func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks document, a decoded Go value, against schema. Every
// schema violation is reported.
func (v *JSONValidator) Validate(document any, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errs error
	for _, desc := range result.Errors() {
		errs = multierr.Append(errs, errors.New(desc.String()))
	}
	return errs
}
