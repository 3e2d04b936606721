package proxy

import (
	"strings"

	"github.com/cachemir/asyncproxy/pkg/store"
)

// Callback receives the outcome of a command. ok is false only when the store
// answered with an error reply, in which case values holds the error text.
type Callback func(ok bool, values []string)

// Request is a queued command: its tokens and, optionally, who to notify.
type Request struct {
	Args     []string
	Callback Callback // nil means fire-and-forget
}

// argv returns the argument vector to send. A single-token request is a
// formatted command line and is split on whitespace.
func (r Request) argv() []string {
	if len(r.Args) == 1 {
		return strings.Fields(r.Args[0])
	}
	return r.Args
}

// Result is the decoded outcome of an executed request, waiting for its
// callback to be invoked by HandleResultCallbacks.
type Result struct {
	OK       bool
	Values   []string
	Callback Callback
}

// decodeReply flattens a store reply into callback values.
func decodeReply(reply store.Reply) (ok bool, values []string) {
	switch reply.Kind {
	case store.KindString, store.KindStatus, store.KindInteger:
		return true, []string{reply.Text()}
	case store.KindArray:
		values = make([]string, len(reply.Elems))
		for i, elem := range reply.Elems {
			// nil and nested array elements keep their slot as "".
			values[i] = elem.Text()
		}
		return true, values
	case store.KindError:
		return false, []string{reply.Str}
	default:
		return true, []string{}
	}
}
