package core

import "strings"

// State key scope prefixes. Unscoped keys are session-local; prefixed keys
// widen or narrow durability:
//
//	user: shared across all sessions of one user
//	app:  shared across all users of the app
//	temp: alive only for the current invocation, never persisted
const (
	ScopeUser = "user:"
	ScopeApp  = "app:"
	ScopeTemp = "temp:"
)

// IsTempKey reports whether key lives in the invocation-scoped temp namespace.
func IsTempKey(key string) bool { return strings.HasPrefix(key, ScopeTemp) }

// IsUserKey reports whether key is user-scoped.
func IsUserKey(key string) bool { return strings.HasPrefix(key, ScopeUser) }

// IsAppKey reports whether key is app-scoped.
func IsAppKey(key string) bool { return strings.HasPrefix(key, ScopeApp) }

// SplitScope separates a state key into its scope prefix ("" for
// session-local) and bare name.
func SplitScope(key string) (scope, name string) {
	for _, s := range []string{ScopeUser, ScopeApp, ScopeTemp} {
		if strings.HasPrefix(key, s) {
			return s, key[len(s):]
		}
	}
	return "", key
}

// ValidStateName reports whether name is usable as a state key inside an
// instruction template: a bare identifier or one identifier behind a known
// scope prefix.
func ValidStateName(name string) bool {
	parts := strings.Split(name, ":")
	switch len(parts) {
	case 1:
		return isIdentifier(name)
	case 2:
		prefix := parts[0] + ":"
		if prefix != ScopeUser && prefix != ScopeApp && prefix != ScopeTemp {
			return false
		}
		return isIdentifier(parts[1])
	default:
		return false
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		digit := r >= '0' && r <= '9'
		if i == 0 && !letter {
			return false
		}
		if !letter && !digit {
			return false
		}
	}
	return true
}

// SplitTempKeys partitions a state delta into persistable entries and
// temp-scoped entries. The returned maps are fresh copies; nil input yields
// nils.
func SplitTempKeys(delta map[string]any) (durable, temp map[string]any) {
	if len(delta) == 0 {
		return nil, nil
	}
	for k, v := range delta {
		if IsTempKey(k) {
			if temp == nil {
				temp = map[string]any{}
			}
			temp[k] = v
			continue
		}
		if durable == nil {
			durable = map[string]any{}
		}
		durable[k] = v
	}
	return durable, temp
}
