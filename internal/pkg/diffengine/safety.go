package diffengine

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultDestructivePatterns flag patches whose text reads like an instruction
// to throw content away.
var DefaultDestructivePatterns = []string{
	`delete.*all`,
	`remove.*everything`,
	`clear.*all`,
	`wipe.*out`,
}

// SafetyConfig tunes the patch guard. It is a heuristic, not a security
// boundary: it can both miss and over-trigger.
type SafetyConfig struct {
	Enabled bool
	// MaxDeletionRatio is the share of original lines a patch may delete.
	MaxDeletionRatio float64
	// Patterns are matched case-insensitively against the whole patch.
	Patterns []string
}

func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		Enabled:          true,
		MaxDeletionRatio: 0.5,
		Patterns:         DefaultDestructivePatterns,
	}
}

// Guard evaluates patches against a SafetyConfig.
type Guard struct {
	enabled  bool
	ratio    float64
	patterns []*regexp.Regexp
}

func NewGuard(cfg SafetyConfig) (*Guard, error) {
	g := &Guard{enabled: cfg.Enabled, ratio: cfg.MaxDeletionRatio}
	if g.ratio <= 0 {
		g.ratio = 0.5
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid destructive pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// ValidatePatchSafety reports whether patch may be applied to original.
func (g *Guard) ValidatePatchSafety(patch, original string) bool {
	ok, _ := g.Check(patch, original)
	return ok
}

// Check is ValidatePatchSafety with the reason a patch was rejected.
func (g *Guard) Check(patch, original string) (bool, string) {
	if g == nil || !g.enabled {
		return true, ""
	}

	deletions := 0
	for _, l := range strings.Split(patch, "\n") {
		if strings.HasPrefix(l, "-") && !strings.HasPrefix(l, "--- ") {
			deletions++
		}
	}
	originalLines := len(strings.Split(original, "\n"))
	if float64(deletions) > float64(originalLines)*g.ratio {
		return false, fmt.Sprintf("patch deletes %d of %d lines", deletions, originalLines)
	}

	for _, re := range g.patterns {
		if re.MatchString(patch) {
			return false, fmt.Sprintf("destructive pattern %q matched", re.String())
		}
	}
	return true, ""
}
