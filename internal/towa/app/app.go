// Package app assembles and runs the Towa bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Towa/internal/towa/advisor"
	"github.com/bdobrica/Towa/internal/towa/bridge"
	"github.com/bdobrica/Towa/internal/towa/catalog"
	"github.com/bdobrica/Towa/internal/towa/dialog"
	"github.com/bdobrica/Towa/internal/towa/environments"
	"github.com/bdobrica/Towa/internal/towa/intent"
	"github.com/bdobrica/Towa/internal/towa/matrix"
	"github.com/bdobrica/Towa/internal/towa/store"
	"github.com/bdobrica/Towa/internal/towa/taskrunner"
	"github.com/bdobrica/Towa/internal/towa/turn"
)

// Config holds application configuration.
type Config struct {
	DatabasePath string
	MasterKey    []byte
	Matrix       matrix.Config
	// AllowedSenders is an optional allowlist of Matrix user IDs permitted
	// to drive operations. Empty means any member of an ops room.
	AllowedSenders []string
	// TaskRunner configures the optional container offload for heavy
	// diagnostics. A zero value disables it.
	TaskRunner taskrunner.Config
}

// App owns the wired subsystems and their lifecycle.
type App struct {
	config  *Config
	store   *store.Store
	matrix  *matrix.Client
	gateway *matrix.Gateway
	pending *dialog.PendingStore
	runner  *taskrunner.Runner
}

// auditAdapter exposes the store's audit writer as a turn.Auditor. Audit
// failures are logged, never surfaced into the conversation.
type auditAdapter struct {
	store *store.Store
}

func (a *auditAdapter) Record(ctx context.Context, traceID, actor, operation string, args map[string]string, result, errMsg string) {
	if err := a.store.WriteAudit(ctx, traceID, actor, operation, args, result, errMsg); err != nil {
		slog.Warn("audit write failed", "trace_id", traceID, "operation", operation, "err", err)
	}
}

// New wires the application from config.
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	matrixCfg := config.Matrix
	matrixCfg.SyncStore = matrix.NewSyncStore(st)
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize Matrix client: %w", err)
	}

	registry, err := catalog.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load operation catalog: %w", err)
	}

	envs := environments.New(st, config.MasterKey)

	runner, err := taskrunner.New(config.TaskRunner)
	if err != nil {
		slog.Warn("task runner unavailable, heavy diagnostics run in-process", "err", err)
	} else if runner.Enabled() {
		slog.Info("task runner ready", "image", config.TaskRunner.Image)
	}

	// Every execution resolves the active environment at call time, so an
	// env.use in one turn takes effect in the next without restarts.
	source := func(ctx context.Context) (bridge.API, error) {
		return envs.ClientFor(ctx, "")
	}
	exec := bridge.New(source, envs).WithTaskRunner(runner)

	pending := dialog.NewPendingStore(dialog.DefaultTTL)
	processor := turn.New(turn.Config{
		Resolver:  intent.NewKeywordResolver(),
		Advisor:   advisor.New(exec),
		Validator: dialog.NewValidator(registry, pending),
		Executor:  exec,
		Audit:     &auditAdapter{store: st},
	})

	return &App{
		config:  config,
		store:   st,
		matrix:  matrixClient,
		gateway: matrix.NewGateway(processor),
		pending: pending,
		runner:  runner,
	}, nil
}

// Run starts syncing and blocks until an interrupt or SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("start Matrix client: %w", err)
	}

	// Expired clarifications are dropped on a fixed cadence; reads enforce
	// the TTL independently, so the sweep only bounds memory.
	go a.sweepLoop(ctx)

	if a.runner.Enabled() {
		if err := a.runner.CleanupLeftovers(ctx); err != nil {
			slog.Warn("task container cleanup failed", "err", err)
		}
	}

	for _, roomID := range a.config.Matrix.OpsRooms {
		if err := a.matrix.SendNotice(ctx, roomID, "✅ Towa is online. Say `!towa help` to see what I can do."); err != nil {
			slog.Warn("startup notice failed", "room", roomID, "err", err)
		}
	}

	slog.Info("Towa is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop releases the Matrix connection and the database.
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	slog.Info("closing database")
	a.store.Close()
}

func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(dialog.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.pending.Sweep(time.Now()); n > 0 {
				slog.Debug("swept expired clarifications", "count", n)
			}
		}
	}
}

// handleMessage relays one room message through the gateway and posts the
// reply, if any.
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}

	sender := evt.Sender.String()
	if !a.senderAllowed(sender) {
		return
	}

	reply := a.gateway.HandleText(ctx, evt.RoomID.String(), sender, content.Body)
	if reply == "" {
		return
	}

	html := markdownToHTML(reply)
	if err := a.matrix.SendMarkdown(ctx, evt.RoomID.String(), html, reply); err != nil {
		slog.Error("send reply failed", "room", evt.RoomID.String(), "err", err)
	}
}

func (a *App) senderAllowed(sender string) bool {
	if len(a.config.AllowedSenders) == 0 {
		return true
	}
	for _, s := range a.config.AllowedSenders {
		if s == sender {
			return true
		}
	}
	return false
}

// markdownToHTML converts the small markdown subset the presenter emits
// into HTML for a Matrix m.text event with format=org.matrix.custom.html.
//
// Supported constructs, in processing order:
//   - Fenced code blocks  ```…```  → <pre><code>…</code></pre>
//   - Inline code  `…`             → <code>…</code>
//   - Bold  **…**                  → <strong>…</strong>
//   - Newlines                     → <br/>
func markdownToHTML(md string) string {
	var out strings.Builder
	lines := strings.Split(md, "\n")
	inCode := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inCode {
				out.WriteString("<pre><code>")
				inCode = true
			} else {
				out.WriteString("</code></pre>")
				inCode = false
			}
			continue
		}
		if inCode {
			escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(line)
			out.WriteString(escaped)
			out.WriteString("\n")
		} else {
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	result := out.String()

	result = replaceDelimited(result, "**", "<strong>", "</strong>")
	result = replaceDelimited(result, "`", "<code>", "</code>")
	result = strings.ReplaceAll(result, "\n", "<br/>")
	return result
}

// replaceDelimited replaces delim…delim pairs with open+content+close.
// An unmatched opener is left as-is.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim)
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
