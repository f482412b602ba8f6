package harness

// TraceEvent is one entry of a scenario trace.
//
// Each flow step contributes an "invocation", the manager's "transition"
// events for the action, and a closing "completion".
type TraceEvent struct {
	Type string `json:"type"`
	Step int    `json:"step"`

	// Invocation fields.
	Action string   `json:"action,omitempty"`
	Scope  string   `json:"scope,omitempty"`
	ID     string   `json:"id,omitempty"`
	IDs    []string `json:"ids,omitempty"`
	Index  *int     `json:"index,omitempty"`

	// Transition fields.
	Seq  int64  `json:"seq,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Completion fields.
	Outcome  string   `json:"outcome,omitempty"`
	Code     string   `json:"code,omitempty"`
	Version  int64    `json:"version,omitempty"`
	Order    []string `json:"order,omitempty"`
	Requests []string `json:"requests,omitempty"`
}

// Event types.
const (
	EventInvocation = "invocation"
	EventTransition = "transition"
	EventCompletion = "completion"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains all events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Requests is the sandbox request log as "METHOD /path status".
	Requests []string `json:"requests,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
