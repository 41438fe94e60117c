// Package dialog implements the slot-filling core of Towa: deciding whether
// an operation invocation has everything it needs to execute, and — when it
// does not — pausing it, asking for exactly what is missing, and resuming it
// when the answers arrive on a later conversational turn.
//
// Pending invocations are held in a PendingStore keyed by single-use resume
// tokens with a short time-to-live.  All of the bookkeeping here is pure
// in-memory computation; only the execution bridge ever blocks.
package dialog

import "fmt"

// Status tags the variant of an InvocationResult.
type Status string

const (
	// StatusReady means the invocation carries every required argument and
	// may be executed.
	StatusReady Status = "ready"
	// StatusNeedsInput means required arguments are missing; the caller must
	// relay the prompts to the user and come back with Resume.
	StatusNeedsInput Status = "needs_input"
	// StatusFailed means the invocation cannot proceed at all (bad or
	// expired token).  Failed is recoverable: the user restarts the request.
	StatusFailed Status = "failed"
)

// MissingField describes one required parameter that has not been supplied.
type MissingField struct {
	// Name is the argument-map key.
	Name string
	// Prompt is the question to relay to the user.
	Prompt string
	// Choices is the fixed list of allowed values, when the schema has one.
	Choices []string
	// Required is always true for fields produced by the validator; it is
	// carried so renderers need no access to the schema.
	Required bool
}

// InvocationResult is the outcome of validating or resuming an invocation.
// Exactly one variant is populated, selected by Status.
type InvocationResult struct {
	Status    Status
	Operation string

	// Args is the fully-resolved argument map.  Set when Status is Ready.
	Args map[string]string

	// Missing lists unanswered required fields in schema order, and Token is
	// the resume handle minted for them.  Set when Status is NeedsInput.
	Missing []MissingField
	Token   string

	// Reason is the user-facing explanation.  Set when Status is Failed.
	Reason string
}

// Ready builds the ready variant.
func Ready(operation string, args map[string]string) InvocationResult {
	return InvocationResult{Status: StatusReady, Operation: operation, Args: args}
}

// NeedsInput builds the needs-input variant.
func NeedsInput(operation string, missing []MissingField, token string) InvocationResult {
	return InvocationResult{Status: StatusNeedsInput, Operation: operation, Missing: missing, Token: token}
}

// Failedf builds the failed variant with a formatted reason.
func Failedf(operation, format string, args ...any) InvocationResult {
	return InvocationResult{Status: StatusFailed, Operation: operation, Reason: fmt.Sprintf(format, args...)}
}
