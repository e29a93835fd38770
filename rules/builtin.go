package rules

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"

	"golang.org/x/exp/constraints"
)

// Subject is the minimal view of an entity the built-in rules need to read
// property values. Entity bases implement it.
type Subject interface {
	PropertyValue(name string) (any, error)
}

var builtinVersion = semver.MustParse("1.0.0")

// Required returns a rule that fails when the property value is nil, a blank
// string or the zero value of its type.
func Required(property string) Rule {
	return New(
		fmt.Sprintf("required:%s", property),
		builtinVersion,
		fmt.Sprintf("Requires a value for %s", property),
		func(_ context.Context, target Subject) (Result, error) {
			v, err := target.PropertyValue(property)
			if err != nil {
				return Result{}, err
			}

			if isEmptyValue(v) {
				return Fail(property, "is required"), nil
			}

			return OK(), nil
		},
		[]string{property},
	)
}

// MaxLength returns a rule that fails when the property string is longer
// than max characters.
func MaxLength(property string, max int) Rule {
	return New(
		fmt.Sprintf("max-length:%s", property),
		builtinVersion,
		fmt.Sprintf("Limits %s to %d characters", property, max),
		func(_ context.Context, target Subject) (Result, error) {
			s, err := stringValue(target, property)
			if err != nil {
				return Result{}, err
			}

			if utf8.RuneCountInString(s) > max {
				return Fail(property, fmt.Sprintf("must be at most %d characters", max)), nil
			}

			return OK(), nil
		},
		[]string{property},
	)
}

// MinLength returns a rule that fails when the property string is shorter
// than min characters. Empty strings are ignored so that Required can own
// the empty case.
func MinLength(property string, min int) Rule {
	return New(
		fmt.Sprintf("min-length:%s", property),
		builtinVersion,
		fmt.Sprintf("Requires %s to be at least %d characters", property, min),
		func(_ context.Context, target Subject) (Result, error) {
			s, err := stringValue(target, property)
			if err != nil {
				return Result{}, err
			}

			if s != "" && utf8.RuneCountInString(s) < min {
				return Fail(property, fmt.Sprintf("must be at least %d characters", min)), nil
			}

			return OK(), nil
		},
		[]string{property},
	)
}

// Range returns a rule that fails when the property value falls outside the
// inclusive range [min, max].
func Range[T constraints.Ordered](property string, min, max T) Rule {
	return New(
		fmt.Sprintf("range:%s", property),
		builtinVersion,
		fmt.Sprintf("Requires %s to be between %v and %v", property, min, max),
		func(_ context.Context, target Subject) (Result, error) {
			v, err := target.PropertyValue(property)
			if err != nil {
				return Result{}, err
			}

			tv, ok := v.(T)
			if !ok {
				return Result{}, fmt.Errorf("%w: property %s is %T", ErrTargetType, property, v)
			}

			if tv < min || tv > max {
				return Fail(property, fmt.Sprintf("must be between %v and %v", min, max)), nil
			}

			return OK(), nil
		},
		[]string{property},
	)
}

// Pattern returns a rule that fails when the property string does not match
// the regular expression. Empty strings are ignored so that Required can own
// the empty case. It panics if the expression does not compile.
func Pattern(property, expr string) Rule {
	re := regexp.MustCompile(expr)

	return New(
		fmt.Sprintf("pattern:%s", property),
		builtinVersion,
		fmt.Sprintf("Requires %s to match %s", property, expr),
		func(_ context.Context, target Subject) (Result, error) {
			s, err := stringValue(target, property)
			if err != nil {
				return Result{}, err
			}

			if s != "" && !re.MatchString(s) {
				return Fail(property, fmt.Sprintf("must match %s", expr)), nil
			}

			return OK(), nil
		},
		[]string{property},
	)
}

func stringValue(target Subject, property string) (string, error) {
	v, err := target.PropertyValue(property)
	if err != nil {
		return "", err
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: property %s is %T, want string", ErrTargetType, property, v)
	}

	return s, nil
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	return reflect.ValueOf(v).IsZero()
}
