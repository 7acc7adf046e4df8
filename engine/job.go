// Package engine runs jobs: it builds their commands, spawns them,
// classifies outcomes, applies retry and auto-fix policy, and cascades
// completion through the pipeline graph.
package engine

import (
	"time"
)

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// IsValidBackoff returns true if the string is a known backoff strategy.
func IsValidBackoff(s string) bool {
	switch BackoffStrategy(s) {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		return true
	default:
		return false
	}
}

// ExecutionConfig carries the per-job execution policy.
type ExecutionConfig struct {
	Timeout    time.Duration `json:"timeout"`     // 0 = no timeout
	MaxRetries int           `json:"max_retries"` // retries after the first failed attempt
	RetryDelay time.Duration `json:"retry_delay"` // base delay fed into the backoff formula
	Backoff    BackoffStrategy `json:"backoff"`
}

// OptionKind identifies how an option's value maps onto the command line.
type OptionKind string

const (
	OptionBoolean OptionKind = "boolean"
	OptionString  OptionKind = "string"
	OptionArray   OptionKind = "array"
	OptionSelect  OptionKind = "select"
)

// IsValidOptionKind returns true if the string is a known option kind.
func IsValidOptionKind(s string) bool {
	switch OptionKind(s) {
	case OptionBoolean, OptionString, OptionArray, OptionSelect:
		return true
	default:
		return false
	}
}

// Option is a single command-line option spec on a job. Exactly one of
// Flag or Arg is set: Flag options render as "--flag value", Arg options
// render as bare positional values. System options configure engine
// behavior (e.g. notification toggles) and never reach the built command.
type Option struct {
	Flag    string      `json:"flag,omitempty"`
	Arg     string      `json:"arg,omitempty"`
	Kind    OptionKind  `json:"type"`
	Default interface{} `json:"default,omitempty"`
	Choices []string    `json:"choices,omitempty"` // for select options
	System  bool        `json:"system,omitempty"`
}

// Key returns the option's lookup key in a runtime value map.
func (o Option) Key() string {
	if o.Flag != "" {
		return o.Flag
	}
	return o.Arg
}

// Job is a named, schedulable shell command with parameterized options
// and execution policy. Immutable once loaded for a run; owned by the
// configuration store.
type Job struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Command   string          `json:"command"`
	Category  string          `json:"category,omitempty"`
	Options   []Option        `json:"options,omitempty"`
	Execution ExecutionConfig `json:"execution"`
}

// DefaultOptionValues derives the runtime value map a chained or scheduled
// trigger uses when no explicit values are provided.
func (j *Job) DefaultOptionValues() map[string]interface{} {
	values := make(map[string]interface{}, len(j.Options))
	for _, opt := range j.Options {
		if key := opt.Key(); key != "" && opt.Default != nil {
			values[key] = opt.Default
		}
	}
	return values
}

// TriggerOrigin records what caused a job run.
type TriggerOrigin string

const (
	TriggerManual    TriggerOrigin = "manual"
	TriggerScheduled TriggerOrigin = "scheduled"
	TriggerChained   TriggerOrigin = "chained"
	TriggerRetry     TriggerOrigin = "retry"
	TriggerAutoFix   TriggerOrigin = "auto-fix"
	TriggerWebhook   TriggerOrigin = "webhook"
)

// ConditionType tags the variant of an edge condition.
type ConditionType string

const (
	CondOnSuccess  ConditionType = "onSuccess"
	CondOnFailure  ConditionType = "onFailure"
	CondAlways     ConditionType = "always"
	CondOnOutput   ConditionType = "onOutput"
	CondOnExitCode ConditionType = "onExitCode"
)

// MatchType selects how an onOutput pattern is evaluated.
type MatchType string

const (
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// Condition gates whether completion of an edge's source triggers its
// target. Pattern/Match apply to onOutput; Code applies to onExitCode.
type Condition struct {
	Type    ConditionType `json:"type"`
	Pattern string        `json:"pattern,omitempty"`
	Match   MatchType     `json:"matchType,omitempty"`
	Code    int           `json:"code,omitempty"`
}

// Edge is a directed link between two jobs. Edges loaded from older
// configurations have no Condition; their legacy trigger/onSuccess pair
// is honored with its original semantics (see PipelineGraph).
type Edge struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Condition *Condition `json:"condition,omitempty"`

	// Legacy untyped shape, only meaningful when Condition is nil.
	LegacyTrigger   bool `json:"trigger,omitempty"`
	LegacyOnSuccess bool `json:"onSuccess,omitempty"`
}
