package annotation

import (
	"strings"
	"unicode/utf8"
)

// MaxCommentLen is the maximum comment length in characters.
const MaxCommentLen = 500

// Author is the display snapshot of the person who wrote a comment.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required"`
}

// Comment is one entry of an annotation thread.
type Comment struct {
	ID        string `json:"id" validate:"required,uuid4"`
	Text      string `json:"text" validate:"required,max=500"`
	Author    Author `json:"author"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
	Edited    bool   `json:"edited,omitempty"`
	EditedAt  *int64 `json:"edited_at,omitempty"`
}

// Clone returns a deep copy.
func (c Comment) Clone() Comment {
	if c.EditedAt != nil {
		at := *c.EditedAt
		c.EditedAt = &at
	}
	return c
}

// CheckText trims text and enforces the comment bounds. It returns the
// trimmed text on success.
func CheckText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Fields: map[string]string{"text": "is required"}}
	}
	if utf8.RuneCountInString(text) > MaxCommentLen {
		return "", &ValidationError{Fields: map[string]string{"text": "must not exceed 500 characters"}}
	}
	return text, nil
}
