package dialog

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Towa/internal/towa/catalog"
)

// expiredReason is the Failed reason for unknown and expired tokens alike, so
// a consumed token is indistinguishable from one that never existed.
const expiredReason = "token not found or expired; please restart"

// Validator decides whether an invocation is ready to execute.  It reads the
// operation catalog and parks incomplete invocations in the pending store.
type Validator struct {
	registry *catalog.Registry
	pending  *PendingStore
}

// NewValidator creates a Validator over the given catalog and store.
func NewValidator(registry *catalog.Registry, pending *PendingStore) *Validator {
	return &Validator{registry: registry, pending: pending}
}

// Validate checks args against the operation's schema.
//
// Operations without a catalog entry are implicitly trusted: they come back
// Ready unchanged and are expected to self-validate downstream.  Catalogued
// operations get optional defaults injected, then every required field that
// is absent or blank becomes a MissingField; if any were produced, the
// invocation is parked under a fresh resume token.
func (v *Validator) Validate(operation string, args map[string]string) InvocationResult {
	schema, ok := v.registry.Describe(operation)
	if !ok {
		// No schema, no validation.  This is a distinct path from a schema
		// with an empty required list, even though both end up Ready.
		return Ready(operation, args)
	}

	resolved := cloneArgs(args)
	for _, p := range schema.Optional() {
		if _, present := resolved[p.Name]; !present && p.Default != "" {
			resolved[p.Name] = p.Default
		}
	}

	var missing []MissingField
	for _, p := range schema.Required() {
		if strings.TrimSpace(resolved[p.Name]) != "" {
			continue
		}
		missing = append(missing, missingFieldFor(p))
	}

	if len(missing) == 0 {
		return Ready(operation, resolved)
	}

	token, err := newToken()
	if err != nil {
		// Token minting only fails when the system entropy source does;
		// surface it as a recoverable failure rather than panicking.
		return Failedf(operation, "could not save the pending request, please retry: %v", err)
	}

	v.pending.Put(token, PendingInvocation{
		Operation: operation,
		Args:      resolved,
		Missing:   missing,
	})
	return NeedsInput(operation, missing, token)
}

// Resume merges answers into the paused invocation held under token and
// re-validates.  The token is consumed either way: a still-incomplete
// invocation is re-parked under a fresh token, a complete one is released
// for execution.  Resuming a consumed, expired, or unknown token fails with
// the same reason in all three cases.
func (v *Validator) Resume(token string, answers map[string]string) InvocationResult {
	state, ok := v.pending.Get(token)
	if !ok {
		return Failedf("", "%s", expiredReason)
	}

	// Consume the token before re-validating so it can never resolve twice.
	v.pending.Delete(token)

	merged := cloneArgs(state.Args)
	for k, val := range answers {
		merged[k] = val
	}

	return v.Validate(state.Operation, merged)
}

// Peek returns the operation and missing-field list for a live token without
// consuming it.  Answer parsers use it to map a free-text reply onto field
// names before calling Resume.
func (v *Validator) Peek(token string) (operation string, missing []MissingField, ok bool) {
	state, found := v.pending.Get(token)
	if !found {
		return "", nil, false
	}
	return state.Operation, state.Missing, true
}

// missingFieldFor builds the prompt entry for a required parameter, falling
// back to a generic prompt when the schema has no curated one.
func missingFieldFor(p catalog.Param) MissingField {
	prompt := p.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("please provide `%s`", p.Name)
	}
	return MissingField{
		Name:     p.Name,
		Prompt:   prompt,
		Choices:  p.Choices,
		Required: true,
	}
}
