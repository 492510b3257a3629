package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"probetherm/pkg/errors"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Command is one parsed g-code line. Args holds letter-keyed
// parameters with their values ("S60" becomes Args["S"] = "60",
// a bare "W" becomes Args["W"] = ""). Text is the comment-stripped
// remainder after the command word with its original casing, for
// commands like M117 that consume free text.
type Command struct {
	Name string
	Args map[string]string
	Text string
	Raw  string
}

// ParseLine parses a single g-code line. Comments introduced by ';'
// or wrapped in parentheses are stripped. Returns nil for a line with
// no command on it.
func ParseLine(line string) *Command {
	raw := line
	if idx := strings.Index(line, ";"); idx >= 0 {
		line = line[:idx]
	}
	line = reParenComment.ReplaceAllString(line, " ")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	parts := strings.Fields(trimmed)
	cmd := &Command{
		Name: strings.ToUpper(parts[0]),
		Args: make(map[string]string),
		Raw:  raw,
	}
	if rest := strings.TrimSpace(trimmed[len(parts[0]):]); rest != "" {
		cmd.Text = rest
	}

	for _, part := range parts[1:] {
		if eq := strings.Index(part, "="); eq > 0 {
			key := strings.ToUpper(part[:eq])
			cmd.Args[key] = part[eq+1:]
			continue
		}
		key := strings.ToUpper(part[:1])
		cmd.Args[key] = part[1:]
	}
	return cmd
}

// Has reports whether the parameter letter was present on the line,
// with or without a value.
func (c *Command) Has(key string) bool {
	_, ok := c.Args[key]
	return ok
}

// Float returns the named parameter as a float. A missing parameter
// yields the default; a present but empty or malformed value is an
// error.
func (c *Command) Float(key string, def float64) (float64, error) {
	val, ok := c.Args[key]
	if !ok {
		return def, nil
	}
	if val == "" {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, val, "missing value")
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, val, "not a number")
	}
	return f, nil
}

// Int returns the named parameter as an integer. Same conventions as
// Float.
func (c *Command) Int(key string, def int) (int, error) {
	val, ok := c.Args[key]
	if !ok {
		return def, nil
	}
	if val == "" {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, val, "missing value")
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.GCodeInvalidParameterError(c.Name, key, val, "not an integer")
	}
	return n, nil
}
