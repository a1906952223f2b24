package httpserver

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/powerpulse/powerpulse/pkg/textx"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateUploadID validates an upload ID path parameter
func ValidateUploadID(uploadID string) ValidationResult {
	if uploadID == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "uploadID",
					Code:    "REQUIRED",
					Message: "Upload ID is required",
				},
			},
		}
	}

	// Check length
	if len(uploadID) > 100 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "uploadID",
					Code:    "TOO_LONG",
					Message: "Upload ID is too long (max 100 characters)",
				},
			},
		}
	}

	// Check for valid characters (alphanumeric, hyphens, underscores)
	validUploadID := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !validUploadID.MatchString(uploadID) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "uploadID",
					Code:    "INVALID_FORMAT",
					Message: "Upload ID contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateChatID validates a chat ID path parameter
func ValidateChatID(chatID string) ValidationResult {
	if chatID == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "chatID",
					Code:    "REQUIRED",
					Message: "Chat ID is required",
				},
			},
		}
	}

	if len(chatID) > 200 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "chatID",
					Code:    "TOO_LONG",
					Message: "Chat ID is too long (max 200 characters)",
				},
			},
		}
	}

	// Chat ids come from external chat platforms; allow a wider charset than
	// upload ids but still reject control characters and path separators.
	validChatID := regexp.MustCompile(`^[a-zA-Z0-9@._:-]+$`)
	if !validChatID.MatchString(chatID) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "chatID",
					Code:    "INVALID_FORMAT",
					Message: "Chat ID contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidatePagination validates pagination parameters
func ValidatePagination(page, pageSize string) ValidationResult {
	var errors []ValidationError

	// Validate page
	if page != "" {
		pageNum, err := strconv.Atoi(page)
		if err != nil || pageNum < 1 {
			errors = append(errors, ValidationError{
				Field:   "page",
				Code:    "INVALID_FORMAT",
				Message: "Page must be a positive integer",
			})
		}
	}

	// Validate page size
	if pageSize != "" {
		sizeNum, err := strconv.Atoi(pageSize)
		if err != nil || sizeNum < 1 || sizeNum > 100 {
			errors = append(errors, ValidationError{
				Field:   "page_size",
				Code:    "INVALID_FORMAT",
				Message: "Page size must be between 1 and 100",
			})
		}
	}

	if len(errors) > 0 {
		return ValidationResult{
			Valid:  false,
			Errors: errors,
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateSearchQuery validates a search query
func ValidateSearchQuery(query string) ValidationResult {
	if query == "" {
		return ValidationResult{Valid: true}
	}

	// Check length
	if len(query) > 200 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "search",
					Code:    "TOO_LONG",
					Message: "Search query is too long (max 200 characters)",
				},
			},
		}
	}

	// Check for valid characters (no special characters that could be used for injection)
	validQuery := regexp.MustCompile(`^[a-zA-Z0-9@._\s-]+$`)
	if !validQuery.MatchString(query) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "search",
					Code:    "INVALID_FORMAT",
					Message: "Search query contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateDays validates the trailing-window size used by the chart endpoints
func ValidateDays(days string) ValidationResult {
	if days == "" {
		return ValidationResult{Valid: true}
	}

	n, err := strconv.Atoi(days)
	if err != nil || n < 1 || n > 365 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "days",
					Code:    "INVALID_FORMAT",
					Message: "Days must be between 1 and 365",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// SanitizeString sanitizes a string input
func SanitizeString(input string) string {
	input = textx.Clean(input)

	// Limit length to prevent DoS
	if len(input) > 1000 {
		input = input[:1000]
	}

	// The length cap can split a multi-byte rune
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}

	return input
}
