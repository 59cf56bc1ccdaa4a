package conversation

import "strings"

// DefaultTerminationToken 约定的终止标记
const DefaultTerminationToken = "TERMINATE"

// TerminationPredicate decides whether the conversation stops after msg.
type TerminationPredicate interface {
	ShouldTerminate(msg Message) bool
}

// TerminateFunc adapts a function to TerminationPredicate.
type TerminateFunc func(msg Message) bool

func (f TerminateFunc) ShouldTerminate(msg Message) bool { return f(msg) }

// ContainsToken matches token as a substring of the message text.
// Matching ignores case unless caseSensitive is set.
func ContainsToken(token string, caseSensitive bool) TerminationPredicate {
	if token == "" {
		return TerminateFunc(func(Message) bool { return false })
	}
	if caseSensitive {
		return TerminateFunc(func(m Message) bool {
			return strings.Contains(m.Text(), token)
		})
	}
	upper := strings.ToUpper(token)
	return TerminateFunc(func(m Message) bool {
		return strings.Contains(strings.ToUpper(m.Text()), upper)
	})
}

// AnyOf terminates when any non-nil predicate does.
func AnyOf(preds ...TerminationPredicate) TerminationPredicate {
	return TerminateFunc(func(m Message) bool {
		for _, p := range preds {
			if p != nil && p.ShouldTerminate(m) {
				return true
			}
		}
		return false
	})
}
