package conn

// State names are contractual per spec.md §4.2, not implementation
// detail — tests and logs refer to them by these names.
type State uint8

const (
	StateNew State = iota
	StateSSLInit
	StateRead
	StateParseCmd
	StateExecute
	StateWrite
	StateClosing
	StatePendingClose
	StateImmediateClose
	StateDestroyed
	StateNack
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSSLInit:
		return "ssl_init"
	case StateRead:
		return "read"
	case StateParseCmd:
		return "parse_cmd"
	case StateExecute:
		return "execute"
	case StateWrite:
		return "write"
	case StateClosing:
		return "closing"
	case StatePendingClose:
		return "pending_close"
	case StateImmediateClose:
		return "immediate_close"
	case StateDestroyed:
		return "destroyed"
	case StateNack:
		return "nack"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result a single state-machine step returns to
// its reactor (spec.md §9 "Exceptions as control flow... the state
// machine uses tagged results").
type Outcome uint8

const (
	OutcomeContinue Outcome = iota // more work ready now, revisit immediately
	OutcomeYield                   // suspended; reactor should wait for readiness
	OutcomeClosed                  // connection fully torn down, reclaim it
)
