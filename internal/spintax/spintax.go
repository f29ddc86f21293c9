// Package spintax expands caption templates written with variation groups
// such as "{Hello|Hi} {world|there}".
package spintax

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

const maxIterations = 100

var (
	// groupPattern matches a group whose options hold no braces, so the
	// first match in nested input is always an innermost group.
	groupPattern    = regexp.MustCompile(`\{([^{}|]+(?:\|[^{}|]+)+)\}`)
	leftoverPattern = regexp.MustCompile(`\{[^}]*\}`)
)

// Engine expands templates with its own random source.
// It is safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns an engine that draws from rnd. A nil rnd gets a time-seeded source.
func New(rnd *rand.Rand) *Engine {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{rnd: rnd}
}

// Expand resolves every group in template to one of its options,
// innermost first, and returns the trimmed result.
func (e *Engine) Expand(template string) string {
	if template == "" {
		return ""
	}

	result := template
	for i := 0; i < maxIterations && strings.Contains(result, "{"); i++ {
		loc := groupPattern.FindStringSubmatchIndex(result)
		if loc == nil {
			break
		}

		options := splitOptions(result[loc[2]:loc[3]])
		replacement := ""
		if len(options) > 0 {
			replacement = options[e.intn(len(options))]
		}
		result = result[:loc[0]] + replacement + result[loc[1]:]
	}

	result = leftoverPattern.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Variations returns up to n distinct expansions of template.
// It gives up after 10*n attempts, so templates with fewer combinations
// than n return fewer results.
func (e *Engine) Variations(template string, n int) []string {
	if n <= 0 {
		return nil
	}

	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for attempts := 0; len(out) < n && attempts < n*10; attempts++ {
		v := e.Expand(template)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rnd.Intn(n)
}

// CountVariations multiplies the option counts of every well-formed group.
// Nested groups are counted naively, so the number is a display hint only.
func CountVariations(template string) int {
	count := 1
	for _, m := range groupPattern.FindAllStringSubmatch(template, -1) {
		n := 0
		for _, opt := range strings.Split(m[1], "|") {
			if strings.TrimSpace(opt) != "" {
				n++
			}
		}
		count *= n
	}
	return count
}

// HasVariations reports whether template contains at least one well-formed group.
func HasVariations(template string) bool {
	return groupPattern.MatchString(template)
}

func splitOptions(raw string) []string {
	parts := strings.Split(raw, "|")
	options := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			options = append(options, p)
		}
	}
	return options
}

var defaultEngine = New(nil)

// Expand uses the package-level engine.
func Expand(template string) string {
	return defaultEngine.Expand(template)
}

// Variations uses the package-level engine.
func Variations(template string, n int) []string {
	return defaultEngine.Variations(template, n)
}
