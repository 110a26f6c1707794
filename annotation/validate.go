package annotation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is matched by every ValidationError via errors.Is.
var ErrInvalid = errors.New("annotation: invalid")

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e.Fields[k]
	}
	return "annotation: invalid: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}
			if i := strings.IndexByte(name, ','); i >= 0 {
				name = name[:i]
			}
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks field rules and the anchor invariants: an element
// annotation carries a non-empty locator and no region, a region annotation
// carries a region and no locator.
func (a *Annotation) Validate() error {
	fields := make(map[string]string)
	if err := instance().Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("annotation: validate: %w", err)
		}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = friendlyMessage(fe)
		}
	}

	switch a.Kind {
	case KindElement:
		if a.Locator == nil || a.Locator.Empty() {
			fields["locator"] = "is required for element annotations"
		}
		if a.Region != nil {
			fields["region"] = "must be empty for element annotations"
		}
	case KindRegion:
		if a.Region == nil {
			fields["region"] = "is required for region annotations"
		}
		if a.Locator != nil {
			fields["locator"] = "must be empty for region annotations"
		}
	}

	for i := range a.Comments {
		if strings.TrimSpace(a.Comments[i].Text) == "" {
			fields[fmt.Sprintf("comments[%d].text", i)] = "is required"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// fieldPath strips the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must not exceed %s characters", e.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s entries", e.Param())
	case "url":
		return "must be a valid URL"
	case "uuid4":
		return "must be a valid UUID v4"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}
