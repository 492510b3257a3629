package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"probetherm/pkg/errors"
)

// Section wraps one [section] of the configuration file. Option names
// are case-insensitive and every getter records the option it touched.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

// value fetches an option and records the access. The bool reports
// whether the option was present in the file.
func (s *Section) value(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// HasOption reports whether an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// GetUnusedOptions returns the options nothing accessed, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// Get returns a string option. A fallback makes the option optional;
// without one a missing option is an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.value(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", errors.ConfigOptionError(s.name, option)
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok := s.value(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, errors.ConfigOptionError(s.name, option)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.ConfigTypeError(s.name, option, v, "integer", err)
	}
	return i, nil
}

// GetIntWithBounds returns an integer option checked against optional
// minimum and maximum values.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && v < *minVal {
		return 0, errors.ConfigValidationError(s.name, option,
			fmt.Sprintf("value %d must have minimum of %d", v, *minVal))
	}
	if maxVal != nil && v > *maxVal {
		return 0, errors.ConfigValidationError(s.name, option,
			fmt.Sprintf("value %d must have maximum of %d", v, *maxVal))
	}
	return v, nil
}

// GetFloat returns a float64 option.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	v, ok := s.value(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return 0, errors.ConfigOptionError(s.name, option)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, errors.ConfigTypeError(s.name, option, v, "float", err)
	}
	return f, nil
}

// FloatBounds constrains GetFloatWithBounds. Nil fields are not
// checked.
type FloatBounds struct {
	MinVal *float64 // minimum value (>=)
	MaxVal *float64 // maximum value (<=)
	Above  *float64 // must be above this value (>)
	Below  *float64 // must be below this value (<)
}

// GetFloatWithBounds returns a float64 option checked against bounds.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if bounds.MinVal != nil && v < *bounds.MinVal {
		return 0, errors.ConfigValidationError(s.name, option,
			fmt.Sprintf("value %v must have minimum of %v", v, *bounds.MinVal))
	}
	if bounds.MaxVal != nil && v > *bounds.MaxVal {
		return 0, errors.ConfigValidationError(s.name, option,
			fmt.Sprintf("value %v must have maximum of %v", v, *bounds.MaxVal))
	}
	if bounds.Above != nil && v <= *bounds.Above {
		return 0, errors.ConfigValidationError(s.name, option,
			fmt.Sprintf("value %v must be above %v", v, *bounds.Above))
	}
	if bounds.Below != nil && v >= *bounds.Below {
		return 0, errors.ConfigValidationError(s.name, option,
			fmt.Sprintf("value %v must be below %v", v, *bounds.Below))
	}
	return v, nil
}

// GetBool returns a boolean option. Accepts 1/true/yes/on and
// 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok := s.value(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return false, errors.ConfigOptionError(s.name, option)
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.ConfigTypeError(s.name, option, v, "boolean", nil)
}

// GetChoice returns a string option that must match one of choices,
// case-insensitively. The canonical spelling from choices is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", errors.ConfigValidationError(s.name, option,
		fmt.Sprintf("'%s' is not a valid choice (valid: %v)", v, choices))
}

// GetList returns the option split on sep with whitespace trimmed and
// empty elements dropped.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	v, ok := s.value(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return nil, errors.ConfigOptionError(s.name, option)
	}
	var result []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result, nil
}

// RawOptions returns a copy of the raw option map.
func (s *Section) RawOptions() map[string]string {
	result := make(map[string]string, len(s.options))
	for k, v := range s.options {
		result[k] = v
	}
	return result
}
