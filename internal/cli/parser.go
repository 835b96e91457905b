// Package cli implements the argument-parsing grammar external interfaces
// require: "--flag=value", "-fvalue", "--" to terminate flag parsing, and
// "-h"/"--help" recognized at any position. None of this is expressible with
// the standard library's flag package (it has no short-option-with-attached-
// value form and no mid-argument "--" terminator), so this is a small
// hand-rolled parser rather than a stdlib substitute for one that exists.
package cli

import (
	"fmt"
	"strings"
)

// FlagDef describes one recognized flag. Long is the name used after "--"
// (e.g. "watch" for "--watch"); Short is the single byte used after a lone
// "-" (e.g. 'k' for "-k"), or 0 if the flag has no short form. HasValue
// marks a flag that consumes the following token (or an attached "=value"
// / "-fvalue" suffix) rather than being a boolean switch.
type FlagDef struct {
	Long     string
	Short    byte
	HasValue bool
}

// ParseResult holds the outcome of a successful Parse.
type ParseResult struct {
	// Values holds the string value of every flag that carries one, keyed
	// by FlagDef.Long. Repeatable flags (like Restart in the config
	// grammar) are not modeled here; callers needing repetition should
	// inspect Occurrences instead.
	Values map[string]string
	// Occurrences records every value seen for a flag, in order, so
	// repeatable flags can accumulate. Boolean flags append "".
	Occurrences map[string][]string
	// Positional holds every non-flag argument, in order, plus everything
	// after a literal "--" terminator.
	Positional []string
	// Help is true if "-h" or "--help" appeared anywhere in args.
	Help bool
}

// Set reports whether flag appeared at least once.
func (r ParseResult) Set(long string) bool {
	return len(r.Occurrences[long]) > 0
}

// Parse walks args against defs, applying the grammar above. It returns as
// soon as -h/--help is found, with Help set and no further validation
// performed — callers should print usage and stop before inspecting
// anything else in that case.
func Parse(args []string, defs []FlagDef) (ParseResult, error) {
	byLong := make(map[string]FlagDef, len(defs))
	byShort := make(map[byte]FlagDef, len(defs))
	for _, d := range defs {
		byLong[d.Long] = d
		if d.Short != 0 {
			byShort[d.Short] = d
		}
	}

	result := ParseResult{
		Values:      make(map[string]string),
		Occurrences: make(map[string][]string),
	}

	terminated := false
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if terminated {
			result.Positional = append(result.Positional, arg)
			continue
		}

		if arg == "--" {
			terminated = true
			continue
		}
		if arg == "-h" || arg == "--help" {
			result.Help = true
			return result, nil
		}

		switch {
		case strings.HasPrefix(arg, "--"):
			name, value, hasEq := strings.Cut(arg[2:], "=")
			def, ok := byLong[name]
			if !ok {
				return ParseResult{}, fmt.Errorf("unrecognized flag --%s", name)
			}
			if !def.HasValue {
				if hasEq {
					return ParseResult{}, fmt.Errorf("--%s takes no value", name)
				}
				result.Occurrences[def.Long] = append(result.Occurrences[def.Long], "")
				continue
			}
			if !hasEq {
				if i+1 >= len(args) {
					return ParseResult{}, fmt.Errorf("--%s requires a value", name)
				}
				i++
				value = args[i]
			}
			result.Values[def.Long] = value
			result.Occurrences[def.Long] = append(result.Occurrences[def.Long], value)

		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			short := arg[1]
			def, ok := byShort[short]
			if !ok {
				return ParseResult{}, fmt.Errorf("unrecognized flag -%c", short)
			}
			if !def.HasValue {
				if len(arg) > 2 {
					return ParseResult{}, fmt.Errorf("-%c takes no value", short)
				}
				result.Occurrences[def.Long] = append(result.Occurrences[def.Long], "")
				continue
			}
			var value string
			if len(arg) > 2 {
				value = arg[2:] // "-fvalue" attached form
			} else {
				if i+1 >= len(args) {
					return ParseResult{}, fmt.Errorf("-%c requires a value", short)
				}
				i++
				value = args[i]
			}
			result.Values[def.Long] = value
			result.Occurrences[def.Long] = append(result.Occurrences[def.Long], value)

		default:
			result.Positional = append(result.Positional, arg)
		}
	}

	return result, nil
}
