// Package validation provides validation rules for posts written through
// the admin API.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxIDLength is the maximum length for caller-chosen post IDs
	MaxIDLength = 64
	// MaxTitleLength is the maximum length for post titles
	MaxTitleLength = 200
	// MaxContentSize is the maximum size of post content in bytes
	MaxContentSize = 512 * 1024 // 512KB
)

// idPattern matches alphanumeric characters, underscores, and hyphens
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationResult holds the result of validation
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make(map[string]string),
	}
}

// AddError adds a field error and marks the result as invalid
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors[field] = message
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// PostValidationParams contains the parameters for validating a post.
// An empty ID means the server assigns one.
type PostValidationParams struct {
	ID      string
	Title   string
	Content string
}

// ValidatePost validates all post fields and returns a validation result
func ValidatePost(params PostValidationParams) *ValidationResult {
	result := NewValidationResult()

	if params.ID != "" {
		result.Merge(ValidateID(params.ID))
	}
	result.Merge(ValidateTitle(params.Title))
	result.Merge(ValidateContent(params.Content))

	return result
}

// ValidateID validates a post ID taken from the request path
func ValidateID(id string) *ValidationResult {
	result := NewValidationResult()

	if strings.TrimSpace(id) == "" {
		result.AddError("id", "ID is required")
		return result
	}

	if utf8.RuneCountInString(id) > MaxIDLength {
		result.AddError("id", "ID must not exceed 64 characters")
		return result
	}

	if !idPattern.MatchString(id) {
		result.AddError("id", "ID must contain only alphanumeric characters, underscores, and hyphens")
	}

	return result
}

// ValidateTitle validates a post title
func ValidateTitle(title string) *ValidationResult {
	result := NewValidationResult()
	title = strings.TrimSpace(title)

	if title == "" {
		result.AddError("title", "Title is required")
		return result
	}

	if !utf8.ValidString(title) {
		result.AddError("title", "Title must be valid UTF-8")
		return result
	}

	if utf8.RuneCountInString(title) > MaxTitleLength {
		result.AddError("title", "Title must not exceed 200 characters")
	}

	return result
}

// ValidateContent validates post content
func ValidateContent(content string) *ValidationResult {
	result := NewValidationResult()

	if len(content) > MaxContentSize {
		result.AddError("content", "Content must not exceed 512KB")
		return result
	}

	if !utf8.ValidString(content) {
		result.AddError("content", "Content must be valid UTF-8")
	}

	return result
}
