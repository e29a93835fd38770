package rules

// Severity ranks how strongly a rule message affects its entity. Only
// SeverityError messages make an entity invalid.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lowercase name of the severity.
//
// Implements the fmt.Stringer interface.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is a single finding produced by a rule run, attached to the
// property it concerns.
type Message struct {
	Property string   `json:"property"`
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

// Result carries the messages produced by one rule run. An empty Result
// means the rule passed and clears any messages from its previous run.
type Result struct {
	Messages []Message `json:"messages"`
}

// OK returns a passing Result with no messages.
func OK() Result {
	return Result{}
}

// Fail returns a Result with a single error message for the property.
func Fail(property, text string) Result {
	return Result{Messages: []Message{{Property: property, Text: text, Severity: SeverityError}}}
}

// Warn returns a Result with a single warning message for the property.
func Warn(property, text string) Result {
	return Result{Messages: []Message{{Property: property, Text: text, Severity: SeverityWarning}}}
}

// Info returns a Result with a single informational message for the property.
func Info(property, text string) Result {
	return Result{Messages: []Message{{Property: property, Text: text, Severity: SeverityInfo}}}
}

// With returns a copy of the Result with an extra message appended.
func (r Result) With(property, text string, severity Severity) Result {
	msgs := make([]Message, len(r.Messages), len(r.Messages)+1)
	copy(msgs, r.Messages)

	return Result{Messages: append(msgs, Message{Property: property, Text: text, Severity: severity})}
}

// IsValid reports whether the Result carries no error messages.
func (r Result) IsValid() bool {
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			return false
		}
	}

	return true
}
