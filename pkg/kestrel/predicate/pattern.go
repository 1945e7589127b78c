package predicate

import (
	"path/filepath"
	"regexp"
	"sync"
)

// PatternCache holds host-side precompiled regex and glob patterns,
// indexed by the pattern id a compiled predicate references. Patterns are
// registered once at load time; the predicate itself can never construct
// an arbitrary pattern at evaluation time (spec.md §4.3).
type PatternCache struct {
	mu     sync.RWMutex
	regex  map[int]*regexp.Regexp
	glob   map[int]string
	nextID int
}

// NewPatternCache creates an empty pattern cache.
func NewPatternCache() *PatternCache {
	return &PatternCache{regex: make(map[int]*regexp.Regexp), glob: make(map[int]string)}
}

// RegisterRegex compiles pattern and returns its id, or an error if the
// pattern is invalid.
func (c *PatternCache) RegisterRegex(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.regex[id] = re
	return id, nil
}

// RegisterGlob validates and stores a glob pattern, returning its id.
func (c *PatternCache) RegisterGlob(pattern string) (int, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.glob[id] = pattern
	return id, nil
}

// MatchRegex reports whether s matches the regex registered under id.
// Unknown ids never match (fail closed).
func (c *PatternCache) MatchRegex(id int, s string) bool {
	c.mu.RLock()
	re, ok := c.regex[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return re.MatchString(s)
}

// MatchGlob reports whether s matches the glob registered under id.
func (c *PatternCache) MatchGlob(id int, s string) bool {
	c.mu.RLock()
	pattern, ok := c.glob[id]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	matched, err := filepath.Match(pattern, s)
	return err == nil && matched
}
