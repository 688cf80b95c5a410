package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentloop/agentloop/core"
)

// Resolver supplies the values substituted into an instruction template.
type Resolver interface {
	// State returns the value for a state key, or false when absent.
	State(key string) (any, bool)
	// Artifact returns the text payload of the latest artifact version.
	Artifact(name string) (string, error)
}

// placeholderRe matches a run of braces around a brace-free body. Matching
// greedy brace runs means nested or doubled braces are examined as a single
// candidate, which yields the literal-passthrough behavior for malformed
// placeholders.
var placeholderRe = regexp.MustCompile(`\{+[^{}]*\}+`)

// ExpandTemplate substitutes {var}, {var?}, {prefix:var} and {artifact.name}
// placeholders in an instruction string.
//
// A trailing ? marks the placeholder optional: missing values expand to the
// empty string. Without it a missing state key is a StateError. Candidates
// whose body is not a valid state name (wrong brace count, bad identifier)
// are left in the output verbatim.
func ExpandTemplate(tmpl string, r Resolver) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		body, ok := placeholderBody(match)
		if !ok {
			return match
		}
		optional := strings.HasSuffix(body, "?")
		name := strings.TrimSuffix(body, "?")
		name = strings.TrimSpace(name)

		if artifact, ok := strings.CutPrefix(name, "artifact."); ok {
			text, err := r.Artifact(artifact)
			if err != nil {
				if optional {
					return ""
				}
				firstErr = &core.StateError{Op: "template", Key: name, Msg: err.Error()}
				return match
			}
			return text
		}

		if !core.ValidStateName(name) {
			return match
		}
		v, ok := r.State(name)
		if !ok {
			if optional {
				return ""
			}
			firstErr = &core.StateError{Op: "template", Key: name, Msg: "state key not found"}
			return match
		}
		return stringify(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// placeholderBody strips exactly one brace from each side. Runs of more than
// one brace are not well-formed placeholders.
func placeholderBody(match string) (string, bool) {
	if !strings.HasPrefix(match, "{") || !strings.HasSuffix(match, "}") {
		return "", false
	}
	body := match[1 : len(match)-1]
	if strings.ContainsAny(body, "{}") {
		return "", false
	}
	return body, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
