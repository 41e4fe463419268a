// internal/config/validation.go - Validation with detailed error messages
package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}

func (r *ValidationResult) addError(field, value, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var validate = validator.New()

// Validate checks the configuration and returns every problem found
func (c *EngineConfig) Validate() error {
	result := c.ValidateWithDetails()
	if !result.Valid {
		return formatValidationError(result)
	}
	return nil
}

// ValidateWithDetails provides detailed validation results
func (c *EngineConfig) ValidateWithDetails() *ValidationResult {
	result := &ValidationResult{
		Errors:   make([]ValidationError, 0),
		Warnings: make([]string, 0),
	}

	c.validateStruct(result)
	c.validateEngineSettings(result)
	c.validateMethods(result)
	c.validateSources(result)

	result.Valid = len(result.Errors) == 0
	return result
}

// validateStruct applies the struct tags
func (c *EngineConfig) validateStruct(result *ValidationResult) {
	err := validate.Struct(c)
	if err == nil {
		return
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.addError("", "", "%v", err)
		return
	}

	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "EngineConfig.")
		value := fmt.Sprintf("%v", fe.Value())
		switch fe.Tag() {
		case "required":
			result.addError(field, "", "%s is required", field)
		case "required_with":
			result.addError(field, "", "%s is required when %s is set", field, fe.Param())
		case "oneof":
			result.addError(field, value, "%s must be one of: %s", field, fe.Param())
		case "gt", "gte", "lt", "lte":
			result.addError(field, value, "%s must be %s %s", field, fe.Tag(), fe.Param())
		default:
			result.addError(field, value, "%s failed %q validation", field, fe.Tag())
		}
	}
}

func (c *EngineConfig) validateEngineSettings(result *ValidationResult) {
	if c.BaseDelaySeconds > c.MaxDelaySeconds {
		result.addError("base_delay_seconds", fmt.Sprintf("%g", c.BaseDelaySeconds),
			"Base delay cannot exceed max delay (%g)", c.MaxDelaySeconds)
	}
	for kind, timeout := range c.MethodTimeouts {
		if !types.MethodKind(strings.ToUpper(kind)).IsValid() {
			result.addError("method_timeouts."+kind, kind, "Unknown method kind")
		}
		if timeout <= 0 {
			result.addError("method_timeouts."+kind, fmt.Sprintf("%g", timeout), "Timeout must be positive")
		}
	}
	for id, rate := range c.RateLimitPerMin {
		if rate <= 0 {
			result.addError("rate_limit_per_min."+id, fmt.Sprintf("%g", rate), "Rate limit must be positive")
		}
		if _, ok := c.Source(id); !ok {
			result.addWarning("rate_limit_per_min references unknown source %q", id)
		}
	}
	if c.MaxRetries > 10 {
		result.addWarning("max_retries of %d makes failing methods very slow", c.MaxRetries)
	}
}

func (c *EngineConfig) validateMethods(result *ValidationResult) {
	names := lo.Map(c.Methods, func(m MethodConfig, _ int) string { return m.Name })
	for _, dup := range lo.FindDuplicates(names) {
		result.addError("methods", dup, "Duplicate method name %q", dup)
	}

	for i, m := range c.Methods {
		prefix := fmt.Sprintf("methods[%d]", i)
		kind := types.MethodKind(strings.ToUpper(m.Kind))
		if m.Kind != "" && !kind.IsValid() {
			result.addError(prefix+".kind", m.Kind, "Unknown method kind (valid: %s)",
				strings.Join(lo.Map(types.ValidMethodKinds(), func(k types.MethodKind, _ int) string { return string(k) }), ", "))
		}
		if kind == types.KindCustom {
			result.addError(prefix+".kind", m.Kind, "CUSTOM methods are registered in code, not configuration")
		}
		used := lo.ContainsBy(c.Sources, func(s SourceConfig) bool {
			_, ok := s.Methods[m.Name]
			return ok
		})
		if !used && m.Name != "" {
			result.addWarning("method %q is not used by any source", m.Name)
		}
	}
}

func (c *EngineConfig) validateSources(result *ValidationResult) {
	ids := lo.Map(c.Sources, func(s SourceConfig, _ int) string { return s.ID })
	for _, dup := range lo.FindDuplicates(ids) {
		result.addError("sources", dup, "Duplicate source id %q", dup)
	}

	for i, s := range c.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if len(s.Methods) == 0 {
			result.addWarning("source %q has no methods and will always report NO_METHODS", s.ID)
		}
		for name, params := range s.Methods {
			field := fmt.Sprintf("%s.methods.%s", prefix, name)
			m, ok := c.Method(name)
			if !ok {
				result.addError(field, name, "Source references undefined method %q", name)
				continue
			}
			validateParams(types.MethodKind(strings.ToUpper(m.Kind)), field, params, result)
		}
	}
}

// validateParams checks the per-source fields each kind needs
func validateParams(kind types.MethodKind, field string, p MethodParams, result *ValidationResult) {
	for _, ct := range p.ContentTypes {
		if _, err := types.ParseContentType(ct); err != nil {
			result.addError(field+".content_types", ct, "%v", err)
		}
	}
	for _, pattern := range p.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			result.addError(field+".patterns", pattern, "Invalid regular expression: %v", err)
		}
	}
	if p.SearchURL != "" {
		validateTemplateURL(field+".search_url", p.SearchURL, result)
	}

	switch kind {
	case types.KindHTMLJSONExtraction:
		if p.SearchURL == "" {
			result.addError(field+".search_url", "", "search_url is required for %s", kind)
		}
		if len(p.Patterns) == 0 && len(p.JSONKeys) == 0 {
			result.addError(field+".patterns", "", "patterns or json_keys are required for %s", kind)
		}
	case types.KindHTMLDOMScrape, types.KindHeadlessBrowser:
		if p.SearchURL == "" {
			result.addError(field+".search_url", "", "search_url is required for %s", kind)
		}
		if len(p.Selectors) == 0 {
			result.addError(field+".selectors", "", "selectors are required for %s", kind)
		}
		for _, sel := range p.Selectors {
			if err := validateCSSSelector(sel); err != nil {
				result.addError(field+".selectors", sel, "Invalid selector: %v", err)
			}
		}
		if p.NextSelector != "" {
			if err := validateCSSSelector(p.NextSelector); err != nil {
				result.addError(field+".next_selector", p.NextSelector, "Invalid selector: %v", err)
			}
		}
	case types.KindSiteAPI:
		switch p.API {
		case "reddit":
		case "json":
			if p.SearchURL == "" {
				result.addError(field+".search_url", "", "search_url is required for the json API")
			}
			if p.URLPath == "" {
				result.addError(field+".url_path", "", "url_path is required for the json API")
			}
		default:
			result.addError(field+".api", p.API, "api must be one of: reddit json")
		}
	}
}

// validateTemplateURL checks a URL that may contain {query}, {page} and {limit}
func validateTemplateURL(field, raw string, result *ValidationResult) {
	filled := strings.NewReplacer("{query}", "q", "{page}", "1", "{limit}", "10").Replace(raw)
	u, err := url.Parse(filled)
	if err != nil {
		result.addError(field, raw, "Invalid URL format: %v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		result.addError(field, raw, "URL must use http or https")
	}
	if u.Host == "" {
		result.addError(field, raw, "URL must include a host")
	}
}

// validateCSSSelector performs basic CSS selector validation
func validateCSSSelector(selector string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return fmt.Errorf("empty selector")
	}

	for _, pattern := range []string{"<<", ">>", "|||", "&&&", "{", "}"} {
		if strings.Contains(selector, pattern) {
			return fmt.Errorf("invalid character sequence: %s", pattern)
		}
	}

	if strings.Count(selector, "[") != strings.Count(selector, "]") {
		return fmt.Errorf("unbalanced brackets")
	}
	if strings.Count(selector, "'")%2 != 0 {
		return fmt.Errorf("unclosed single quote")
	}
	if strings.Count(selector, "\"")%2 != 0 {
		return fmt.Errorf("unclosed double quote")
	}

	return nil
}

// formatValidationError creates a comprehensive error message
func formatValidationError(result *ValidationResult) error {
	var errorMsg strings.Builder

	errorMsg.WriteString("Configuration validation failed:\n")

	for i, err := range result.Errors {
		errorMsg.WriteString(fmt.Sprintf("  %d. %s", i+1, err.Message))
		if err.Field != "" {
			errorMsg.WriteString(fmt.Sprintf(" (field: %s)", err.Field))
		}
		if err.Value != "" {
			errorMsg.WriteString(fmt.Sprintf(" (value: %s)", err.Value))
		}
		errorMsg.WriteString("\n")
	}

	if len(result.Warnings) > 0 {
		errorMsg.WriteString("\nWarnings:\n")
		for i, warning := range result.Warnings {
			errorMsg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, warning))
		}
	}

	return fmt.Errorf("%s", errorMsg.String())
}

// GetValidationSuggestions provides actionable suggestions for fixing validation errors
func GetValidationSuggestions(result *ValidationResult) []string {
	suggestions := make([]string, 0)

	hasMethodError := lo.ContainsBy(result.Errors, func(e ValidationError) bool {
		return strings.Contains(e.Field, "methods")
	})
	hasURLError := lo.ContainsBy(result.Errors, func(e ValidationError) bool {
		return strings.Contains(e.Field, "url")
	})

	if hasMethodError {
		suggestions = append(suggestions,
			"Every name under a source's methods must be declared in the top-level methods list",
			"Check method kinds against the supported list")
	}
	if hasURLError {
		suggestions = append(suggestions,
			"Ensure URLs include protocol (http:// or https://)",
			"Use {query}, {page} and {limit} placeholders in search URLs")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions,
			"Review the configuration file for syntax errors",
			"Check YAML indentation and formatting")
	}

	return suggestions
}
