package engine

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/flowd-sh/flowd/errors"
)

// AutoFixRule pattern-matches failure output and derives a remediation
// command. When Extract is set it is a regex whose first capture group
// pulls a parameter (e.g. a package name) out of the output; the rule is
// skipped when extraction yields nothing. The fix command may reference
// the extracted value with the {match} placeholder.
type AutoFixRule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Extract string `json:"extract,omitempty"`
	Fix     string `json:"fix"`
	Enabled bool   `json:"enabled"`
}

// FixMatch is the result of a successful rule match: the rule plus the
// fully resolved remediation command.
type FixMatch struct {
	Rule    AutoFixRule
	Value   string
	Command string
}

// DefaultAutoFixRules is the built-in rule set, applied when the user
// configuration provides none. Order matters: first match wins.
func DefaultAutoFixRules() []AutoFixRule {
	return []AutoFixRule{
		{
			ID:      "npm-missing-module",
			Name:    "npm missing module",
			Pattern: `Cannot find module`,
			Extract: `Cannot find module '([^']+)'`,
			Fix:     "npm install {match}",
			Enabled: true,
		},
		{
			ID:      "pip-missing-module",
			Name:    "pip missing module",
			Pattern: `ModuleNotFoundError`,
			Extract: `No module named '([^']+)'`,
			Fix:     "pip install {match}",
			Enabled: true,
		},
		{
			ID:      "git-index-lock",
			Name:    "git stale index lock",
			Pattern: `index\.lock': File exists`,
			Fix:     "rm -f .git/index.lock",
			Enabled: true,
		},
		{
			ID:      "port-in-use",
			Name:    "port already in use",
			Pattern: `(EADDRINUSE|address already in use)`,
			Extract: `(?:EADDRINUSE.*?:|address already in use.*?:)(\d+)`,
			Fix:     "lsof -ti:{match} | xargs -r kill",
			Enabled: true,
		},
	}
}

// AutoFixEngine evaluates failure output against an ordered rule set and
// executes the derived remediation command.
type AutoFixEngine struct {
	rules   []AutoFixRule
	spawner Spawner
	logger  *zap.SugaredLogger
}

// NewAutoFixEngine creates an auto-fix engine. A nil or empty rule slice
// falls back to the built-in defaults.
func NewAutoFixEngine(rules []AutoFixRule, spawner Spawner, logger *zap.SugaredLogger) *AutoFixEngine {
	if len(rules) == 0 {
		rules = DefaultAutoFixRules()
	}
	return &AutoFixEngine{rules: rules, spawner: spawner, logger: logger}
}

// Detect returns the first enabled rule whose pattern matches the
// combined output. Rules with an extractor that yields nothing are
// skipped; rules with invalid regexes are skipped silently.
func (e *AutoFixEngine) Detect(stdout, stderr string) (*FixMatch, bool) {
	combined := stdout + "\n" + stderr

	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}

		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			e.logger.Warnw("Skipping auto-fix rule with invalid pattern",
				"rule", rule.Name, "pattern", rule.Pattern, "error", err)
			continue
		}
		if !re.MatchString(combined) {
			continue
		}

		value := ""
		if rule.Extract != "" {
			extractRe, err := regexp.Compile(rule.Extract)
			if err != nil {
				continue
			}
			groups := extractRe.FindStringSubmatch(combined)
			if len(groups) < 2 || groups[1] == "" {
				// Extractor defined but yielded nothing - rule does not apply
				continue
			}
			value = groups[1]
		}

		command := strings.ReplaceAll(rule.Fix, "{match}", value)
		return &FixMatch{Rule: rule, Value: value, Command: command}, true
	}

	return nil, false
}

// Apply runs the remediation command to completion. No timeout beyond
// process exit; any non-zero exit is a failure.
func (e *AutoFixEngine) Apply(ctx context.Context, match *FixMatch) error {
	e.logger.Infow("Applying auto-fix",
		"rule", match.Rule.Name, "command", match.Command)

	proc, err := e.spawner.Spawn(ctx, match.Command, nil)
	if err != nil {
		return errors.Wrap(errors.ErrAutoFixFailed, err.Error())
	}

	// Drain output so the process cannot block on a full pipe
	for range proc.Output() {
	}

	result := <-proc.Done()
	if result.Err != nil {
		return errors.Wrap(errors.ErrAutoFixFailed, result.Err.Error())
	}
	if result.Code != 0 {
		return errors.Wrapf(errors.ErrAutoFixFailed, "fix command exited %d", result.Code)
	}

	e.logger.Infow("Auto-fix command succeeded", "rule", match.Rule.Name)
	return nil
}
