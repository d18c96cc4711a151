package queue

import (
	"fmt"
	"strings"

	"github.com/contentforge/contentforge/internal/model"
)

const (
	maxTopicLength   = 300
	maxKeywords      = 25
	maxKeywordLength = 100
	minWordCount     = 100
	maxWordCount     = 20000
	maxLocaleLength  = 16
)

type ValidationError struct {
	FieldPath string `json:"field"`
	Message   string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (ve *ValidationErrors) Add(fieldPath, message string) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateRequest checks a submission before any job record exists.
// Returns *ValidationErrors listing every field failure, or nil.
func ValidateRequest(req model.GenerationRequest) *ValidationErrors {
	ve := &ValidationErrors{}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		ve.Add("topic", "must not be empty")
	} else if len(req.Topic) > maxTopicLength {
		ve.Add("topic", fmt.Sprintf("must be at most %d characters", maxTopicLength))
	}

	if len(req.Keywords) > maxKeywords {
		ve.Add("keywords", fmt.Sprintf("at most %d keywords allowed", maxKeywords))
	}
	for i, kw := range req.Keywords {
		if strings.TrimSpace(kw) == "" {
			ve.Add(fmt.Sprintf("keywords[%d]", i), "must not be empty")
		} else if len(kw) > maxKeywordLength {
			ve.Add(fmt.Sprintf("keywords[%d]", i), fmt.Sprintf("must be at most %d characters", maxKeywordLength))
		}
	}

	if req.TargetWordCount < minWordCount || req.TargetWordCount > maxWordCount {
		ve.Add("target_word_count", fmt.Sprintf("must be between %d and %d", minWordCount, maxWordCount))
	}

	if !model.IsValidTone(req.Tone) {
		ve.Add("tone", fmt.Sprintf("unknown tone %q", req.Tone))
	}
	if !model.IsValidMode(req.Mode) {
		ve.Add("mode", fmt.Sprintf("unknown mode %q", req.Mode))
	}

	if len(req.Locale) > maxLocaleLength {
		ve.Add("locale", fmt.Sprintf("must be at most %d characters", maxLocaleLength))
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
