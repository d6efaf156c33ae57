package antispam

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"
)

// DefaultTriggers is the built-in trigger list used when no file is
// configured.
var DefaultTriggers = []string{
	"http://", "https://", "t.me/", ".com",
	"badword", "spam", "advertise",
	"earn money", "make money fast",
	"bit.ly", "goo.gl",
}

// Matcher reports whether text contains any trigger, ignoring case.
type Matcher struct {
	mu       sync.Mutex
	ac       *ahocorasick.Matcher
	triggers []string
}

// NewMatcher builds a Matcher over triggers. Blank triggers are dropped and
// the rest are lowercased.
func NewMatcher(triggers []string) *Matcher {
	cleaned := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		if t := strings.ToLower(strings.TrimSpace(trigger)); t != "" {
			cleaned = append(cleaned, t)
		}
	}

	return &Matcher{
		ac:       ahocorasick.NewStringMatcher(cleaned),
		triggers: cleaned,
	}
}

// Triggers returns the normalized trigger list.
func (m *Matcher) Triggers() []string {
	out := make([]string, len(m.triggers))
	copy(out, m.triggers)
	return out
}

// Match reports whether text contains at least one trigger.
func (m *Matcher) Match(text string) bool {
	if m == nil || text == "" || len(m.triggers) == 0 {
		return false
	}

	// ahocorasick.Matcher keeps per-call state.
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.ac.Match([]byte(strings.ToLower(text)))) > 0
}

type triggerFile struct {
	Triggers []string `yaml:"triggers"`
}

// LoadTriggers reads a YAML file of the form `triggers: [..]`. An empty path
// returns DefaultTriggers.
func LoadTriggers(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return append([]string(nil), DefaultTriggers...), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger file: %w", err)
	}

	var file triggerFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse trigger file: %w", err)
	}
	if len(file.Triggers) == 0 {
		return nil, errors.New("trigger file lists no triggers")
	}

	return file.Triggers, nil
}
