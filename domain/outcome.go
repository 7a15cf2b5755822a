package domain

// OutcomeKind discriminates an Outcome.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRequiresApproval
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRequiresApproval:
		return "requires_approval"
	default:
		return "failed"
	}
}

// Outcome is the result of running a command. Exactly one of Result, Entry
// and Err is meaningful, selected by Kind.
type Outcome struct {
	Kind   OutcomeKind
	Result *Result
	Entry  *CommandLogEntry
	Err    error
}

func Completed(r *Result) Outcome {
	return Outcome{Kind: OutcomeCompleted, Result: r}
}

// RequiresApproval carries the log entry that should be parked for a
// checker. The entry may not be persisted yet.
func RequiresApproval(e *CommandLogEntry) Outcome {
	return Outcome{Kind: OutcomeRequiresApproval, Entry: e}
}

func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Unwrap converts the outcome to a plain result/error pair. A parked command
// yields its logged-for-approval result.
func (o Outcome) Unwrap() (*Result, error) {
	switch o.Kind {
	case OutcomeCompleted:
		return o.Result, nil
	case OutcomeRequiresApproval:
		if o.Result != nil {
			return o.Result, nil
		}
		return o.Entry.LoggedResult(), nil
	default:
		return nil, o.Err
	}
}
