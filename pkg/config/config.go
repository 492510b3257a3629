// Package config parses the probetherm host configuration file.
// Sections and options record every access so startup can reject
// typos and leftover entries the host never consumed.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"probetherm/pkg/errors"
)

// Config holds the parsed host configuration.
type Config struct {
	mu               sync.Mutex
	sections         map[string]*Section
	order            []string
	accessedSections map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads the configuration file at path. [include <glob>]
// directives pull in additional files relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.loadFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Include directives are
// rejected because there is no base directory to resolve them.
func LoadString(data string) (*Config, error) {
	c := New()
	p := &parser{config: c}
	if err := p.parse(strings.NewReader(data)); err != nil {
		return nil, err
	}
	p.flush()
	return c, nil
}

func (c *Config) loadFile(path string, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if seen[abs] {
		return fmt.Errorf("config: include cycle through %s", path)
	}
	seen[abs] = true
	defer delete(seen, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	p := &parser{config: c, dir: filepath.Dir(abs), seen: seen}
	if err := p.parse(f); err != nil {
		return err
	}
	p.flush()
	return nil
}

// parser accumulates one section at a time and commits it to the
// config when the next header or end of input arrives.
type parser struct {
	config  *Config
	dir     string // base directory for includes; empty forbids them
	seen    map[string]bool
	section string
	options map[string]string
	line    int
}

func (p *parser) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++
		if err := p.handleLine(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (p *parser) handleLine(raw string) error {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = strings.TrimSpace(line[:i])
		if line == "" {
			return nil
		}
	}
	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		return p.handleHeader(strings.TrimSpace(line[1 : len(line)-1]))
	}
	if p.section == "" {
		// Options before the first section header are ignored.
		return nil
	}
	key, value, ok := splitOption(line)
	if ok {
		p.options[key] = value
	}
	return nil
}

func (p *parser) handleHeader(header string) error {
	if header == "" {
		return fmt.Errorf("config: empty section header at line %d", p.line)
	}
	p.flush()
	if spec, ok := strings.CutPrefix(header, "include "); ok {
		return p.include(strings.TrimSpace(spec))
	}
	p.section = header
	p.options = make(map[string]string)
	return nil
}

func (p *parser) include(spec string) error {
	if spec == "" {
		return fmt.Errorf("config: empty include at line %d", p.line)
	}
	if p.dir == "" {
		return fmt.Errorf("config: include not supported at line %d", p.line)
	}
	pattern := filepath.Join(p.dir, spec)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("config: bad include pattern %q: %w", spec, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return fmt.Errorf("config: include file does not exist: %s", pattern)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := p.config.loadFile(m, p.seen); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) flush() {
	if p.section != "" {
		p.config.addSection(p.section, p.options)
	}
	p.section = ""
	p.options = nil
}

func splitOption(line string) (key, value string, ok bool) {
	sep := strings.IndexAny(line, ":=")
	if sep < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:sep])
	value = strings.TrimSpace(line[sep+1:])
	return key, value, key != ""
}

// addSection commits a section, merging options into any section of
// the same name seen earlier (later values win).
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns the named section or an error if it is absent.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if !ok {
		return nil, errors.ConfigSectionError(name)
	}
	c.accessedSections[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns the named section, or nil if absent.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessedSections[name] = struct{}{}
	}
	return sec
}

// HasSection reports whether the named section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sections[name]
	return ok
}

// GetSections returns all sections in file order.
func (c *Config) GetSections() []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]*Section, 0, len(c.order))
	for _, name := range c.order {
		result = append(result, c.sections[name])
	}
	return result
}

// GetPrefixSections returns the sections whose name starts with
// prefix, in file order, and marks them accessed. Used to enumerate
// numbered sections such as [extruder] and [extruder1].
func (c *Config) GetPrefixSections(prefix string) []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []*Section
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			c.accessedSections[name] = struct{}{}
			result = append(result, c.sections[name])
		}
	}
	return result
}

// GetUnusedSections returns the names of sections nothing accessed.
func (c *Config) GetUnusedSections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []string
	for _, name := range c.order {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	return result
}

// CheckUnused returns an error when the file contains sections or
// options that nothing consumed. A typoed option would otherwise be
// silently ignored.
func (c *Config) CheckUnused() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var faults []string
	for _, name := range c.order {
		if _, ok := c.accessedSections[name]; !ok {
			faults = append(faults, fmt.Sprintf("section [%s] is unused", name))
			continue
		}
		for _, opt := range c.sections[name].GetUnusedOptions() {
			faults = append(faults, fmt.Sprintf("option '%s' in [%s] is unused", opt, name))
		}
	}
	if len(faults) > 0 {
		return errors.New(errors.ErrConfigValidation, strings.Join(faults, "; "))
	}
	return nil
}
