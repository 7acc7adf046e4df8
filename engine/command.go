package engine

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// BuildCommand renders a job's command template plus runtime option values
// into a single shell command string. Pure: no side effects, no errors.
// Malformed option specs are silently skipped.
//
// System options never reach the command line. Boolean options contribute
// their flag when the resolved value is truthy; string/select options
// contribute `flag value` (or a bare positional when the spec has no
// flag) when a non-empty value resolves; array options join with commas
// first. When the base command is a `&&`-compound, flags are appended to
// every sub-command so shared flags apply pipeline-wide; positional args
// always go at the very end.
func BuildCommand(job *Job, values map[string]interface{}) string {
	var flags []string
	var positionals []string

	for _, opt := range job.Options {
		if opt.System {
			continue
		}
		key := opt.Key()
		if key == "" || !IsValidOptionKind(string(opt.Kind)) {
			continue
		}

		value, ok := values[key]
		if !ok {
			value = opt.Default
		}

		switch opt.Kind {
		case OptionBoolean:
			if isTruthy(value) && opt.Flag != "" {
				flags = append(flags, opt.Flag)
			}
		case OptionString, OptionSelect:
			s := stringValue(value)
			if s == "" {
				continue
			}
			if opt.Flag != "" {
				flags = append(flags, opt.Flag+" "+shellquote.Join(s))
			} else {
				positionals = append(positionals, shellquote.Join(s))
			}
		case OptionArray:
			s := joinArray(value)
			if s == "" {
				continue
			}
			if opt.Flag != "" {
				flags = append(flags, opt.Flag+" "+shellquote.Join(s))
			} else {
				positionals = append(positionals, shellquote.Join(s))
			}
		}
	}

	command := job.Command
	if len(flags) > 0 {
		flagStr := strings.Join(flags, " ")
		if strings.Contains(command, "&&") {
			parts := strings.Split(command, "&&")
			for i, part := range parts {
				parts[i] = strings.TrimSpace(part) + " " + flagStr
			}
			command = strings.Join(parts, " && ")
		} else {
			command = command + " " + flagStr
		}
	}

	if len(positionals) > 0 {
		command = command + " " + strings.Join(positionals, " ")
	}

	return command
}

// isTruthy interprets a runtime option value as a boolean.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1" || val == "yes"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return false
	}
}

// stringValue renders a runtime option value as a string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers decode as float64; render integers without decimals
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// joinArray renders an array option value as a comma-joined string.
func joinArray(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(val, ",")
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringValue(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case string:
		return val
	default:
		return ""
	}
}
