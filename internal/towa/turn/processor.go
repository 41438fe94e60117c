// Package turn orchestrates one conversational turn: utterance in, exactly
// one rendered reply out.
//
// A fresh utterance flows resolver → advisor → validator, then either
// executes immediately or pauses with a clarification and a resume token. A
// resume turn re-enters at the validator with the token and the parsed
// answers. Each turn runs to completion before the next one for the same
// conversation starts; the pending-invocation store is the only shared
// state between turns.
package turn

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bdobrica/Towa/common/redact"
	"github.com/bdobrica/Towa/common/trace"
	"github.com/bdobrica/Towa/internal/towa/advisor"
	"github.com/bdobrica/Towa/internal/towa/bridge"
	"github.com/bdobrica/Towa/internal/towa/dialog"
	"github.com/bdobrica/Towa/internal/towa/intent"
	"github.com/bdobrica/Towa/internal/towa/render"
)

// Executor runs a fully-resolved operation. *bridge.Bridge satisfies it.
type Executor interface {
	Execute(ctx context.Context, operation string, args map[string]string) (*bridge.Outcome, error)
}

// Auditor records operation attempts. *store.Store satisfies it via a thin
// adapter in the app package; nil disables auditing.
type Auditor interface {
	Record(ctx context.Context, traceID, actor, operation string, args map[string]string, result, errMsg string)
}

// Processor handles conversational turns.
type Processor struct {
	resolver  intent.Resolver
	advisor   *advisor.Advisor
	validator *dialog.Validator
	executor  Executor
	parser    AnswerParser
	audit     Auditor
}

// Config wires a Processor. Resolver, Validator, and Executor are
// mandatory; Advisor, Parser, and Audit are optional (nil advisor skips
// rewrites, nil parser falls back to KeyValueParser).
type Config struct {
	Resolver  intent.Resolver
	Advisor   *advisor.Advisor
	Validator *dialog.Validator
	Executor  Executor
	Parser    AnswerParser
	Audit     Auditor
}

// New creates a Processor from cfg.
func New(cfg Config) *Processor {
	parser := cfg.Parser
	if parser == nil {
		parser = KeyValueParser{}
	}
	return &Processor{
		resolver:  cfg.Resolver,
		advisor:   cfg.Advisor,
		validator: cfg.Validator,
		executor:  cfg.Executor,
		parser:    parser,
		audit:     cfg.Audit,
	}
}

// HandleUtterance processes a fresh natural-language request from actor.
// The second return value is false when no intent was recognized, so the
// surface can stay silent instead of replying noise to ordinary chatter.
func (p *Processor) HandleUtterance(ctx context.Context, actor, text string) (string, bool) {
	candidates := p.resolver.Classify(text)
	if len(candidates) == 0 {
		return "", false
	}

	ctx, traceID := trace.Ensure(ctx)
	c := candidates[0]
	slog.Info("turn: intent resolved",
		"trace_id", traceID, "actor", actor,
		"operation", c.Operation, "args", redact.Args(c.Args))

	// Advisor runs on first attempts only, never on resumes.
	operation, args := c.Operation, c.Args
	if p.advisor != nil {
		operation, args = p.advisor.MaybeRewrite(ctx, operation, args)
	}

	return p.finish(ctx, traceID, actor, p.validator.Validate(operation, args)), true
}

// HandleResume processes a reply carrying a resume token. The free-text
// answer is turned into field values by the configured parser.
func (p *Processor) HandleResume(ctx context.Context, actor, token, reply string) string {
	ctx, traceID := trace.Ensure(ctx)

	answers := map[string]string{}
	if _, missing, ok := p.validator.Peek(token); ok {
		answers = p.parser.Parse(missing, reply)
	}

	return p.finish(ctx, traceID, actor, p.validator.Resume(token, answers))
}

// finish takes a validation verdict to its rendered reply, executing when
// ready.
func (p *Processor) finish(ctx context.Context, traceID, actor string, res dialog.InvocationResult) string {
	switch res.Status {
	case dialog.StatusNeedsInput:
		slog.Info("turn: awaiting input",
			"trace_id", traceID, "operation", res.Operation,
			"missing", missingNames(res.Missing))
		return render.Clarification(res)

	case dialog.StatusFailed:
		slog.Info("turn: resume failed", "trace_id", traceID, "reason", res.Reason)
		return render.Failure(res.Reason)
	}

	out, err := p.executor.Execute(ctx, res.Operation, res.Args)
	if err != nil {
		tagged, ok := err.(*bridge.Error)
		if !ok {
			tagged = &bridge.Error{Kind: bridge.KindUnknown, Operation: res.Operation, Err: err}
		}
		slog.Error("turn: execution failed",
			"trace_id", traceID, "operation", res.Operation,
			"kind", tagged.Kind, "err", tagged.Err)
		p.record(ctx, traceID, actor, res.Operation, res.Args, "error", tagged.Err.Error())
		return render.Error(tagged)
	}

	slog.Info("turn: executed",
		"trace_id", traceID, "operation", res.Operation, "args", redact.Args(res.Args))
	p.record(ctx, traceID, actor, res.Operation, res.Args, "success", "")
	return render.Outcome(out)
}

func (p *Processor) record(ctx context.Context, traceID, actor, operation string, args map[string]string, result, errMsg string) {
	if p.audit == nil {
		return
	}
	p.audit.Record(ctx, traceID, actor, operation, redact.Args(args), result, errMsg)
}

func missingNames(missing []dialog.MissingField) string {
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = m.Name
	}
	return strings.Join(names, ",")
}
