package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kizuna/internal/batch"
	"kizuna/internal/cli/history"
	"kizuna/internal/cli/output"
	"kizuna/internal/cli/parser"
	"kizuna/internal/cli/pipeline"
	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/clock"
	"kizuna/internal/platform/config"
	apperrors "kizuna/internal/platform/errors"
	"kizuna/internal/queue"
	"kizuna/internal/security"
)

// retryBackoff delays the single retry applied to transient failures.
const retryBackoff = 500 * time.Millisecond

// waitPollInterval bounds how long a wait can miss a terminal update: the
// notifier drops events under pressure, so waiters re-check the snapshot.
const waitPollInterval = 200 * time.Millisecond

// Deps bundles everything the router dispatches into.
type Deps struct {
	Discover  *handlers.DiscoverHandler
	Transfer  *handlers.TransferHandler
	Streaming *handlers.StreamingHandler
	Exec      *handlers.ExecHandler
	Clipboard *handlers.ClipboardHandler
	Status    *handlers.StatusHandler
	Queue     *queue.Scheduler
	Batch     *batch.Orchestrator
	Gate      *security.Gate
	Config    *config.CLIConfig
	History   *history.Log
	Clock     clock.Clock
	Logger    *zap.Logger

	// ConfigPath is where config set persists; empty disables persistence.
	ConfigPath string

	// Stdin carries piped input for --pipeline invocations; nil when the
	// process is attached to a terminal.
	Stdin io.Reader
}

// Result is the outcome of one command execution.
type Result struct {
	Success       bool          `json:"success"`
	Output        string        `json:"output"`
	Warnings      []string      `json:"warnings,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	ExitCode      int           `json:"exit_code"`
}

// Router turns token lists into executed commands: parse, validate,
// dispatch with recovery, format.
type Router struct {
	deps Deps

	stdinOnce  sync.Once
	stdinItems pipeline.StdinItems
	stdinErr   error
}

func New(deps Deps) *Router {
	return &Router{deps: deps}
}

// piped reads and classifies the wired stdin once; every later caller gets
// the same items. Without a wired stdin it returns empty items.
func (r *Router) piped() (pipeline.StdinItems, error) {
	if r.deps.Stdin == nil {
		return pipeline.StdinItems{}, nil
	}
	r.stdinOnce.Do(func() {
		r.stdinItems, r.stdinErr = pipeline.ReadStdin(r.deps.Stdin)
	})
	return r.stdinItems, r.stdinErr
}

// Run executes one command line end to end. Errors never escape; they land
// in the Result with the taxonomy exit code.
func (r *Router) Run(ctx context.Context, tokens []string) Result {
	start := r.deps.Clock.Now()
	result := r.run(ctx, tokens)
	result.ExecutionTime = r.deps.Clock.Now().Sub(start)
	r.record(tokens, result)
	return result
}

func (r *Router) run(ctx context.Context, tokens []string) Result {
	cmd, err := parser.Parse(tokens)
	if err != nil {
		return failure(err)
	}
	validated, err := parser.Validate(cmd)
	if err != nil {
		return failure(err)
	}

	out, err := r.executeWithRecovery(ctx, validated.Command)
	if err != nil {
		res := failure(err)
		res.Warnings = warningStrings(validated.Warnings)
		return res
	}
	return Result{
		Success:  true,
		Output:   out,
		Warnings: warningStrings(validated.Warnings),
		ExitCode: 0,
	}
}

// executeWithRecovery dispatches once, retrying a single time after a short
// backoff when the failure is a transient integration error. Panics in
// handler code become execution errors instead of crashes.
func (r *Router) executeWithRecovery(ctx context.Context, cmd parser.ParsedCommand) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.deps.Logger.Error("command panicked",
				zap.String("verb", string(cmd.Verb)), zap.Any("panic", rec))
			err = apperrors.Execution(fmt.Sprintf("internal error executing %s: %v", cmd.Verb, rec))
		}
	}()

	out, err = r.dispatch(ctx, cmd)
	if err == nil {
		return out, nil
	}
	var cliErr *apperrors.CLIError
	if errors.As(err, &cliErr) && cliErr.Transient() && ctx.Err() == nil {
		r.deps.Logger.Debug("retrying after transient failure",
			zap.String("verb", string(cmd.Verb)), zap.Error(err))
		select {
		case <-ctx.Done():
			return "", apperrors.Cancelled()
		case <-time.After(retryBackoff):
		}
		return r.dispatch(ctx, cmd)
	}
	return out, err
}

func (r *Router) dispatch(ctx context.Context, cmd parser.ParsedCommand) (string, error) {
	if ctx.Err() != nil {
		return "", apperrors.Cancelled()
	}
	switch cmd.Verb {
	case parser.VerbDiscover:
		return r.runDiscover(ctx, cmd)
	case parser.VerbSend:
		return r.runSend(ctx, cmd)
	case parser.VerbReceive:
		return r.runReceive(ctx, cmd)
	case parser.VerbStream:
		return r.runStream(ctx, cmd)
	case parser.VerbExec:
		return r.runExec(ctx, cmd)
	case parser.VerbPeers:
		return r.runPeers(ctx, cmd)
	case parser.VerbStatus:
		return r.runStatus(ctx, cmd)
	case parser.VerbClipboard:
		return r.runClipboard(ctx, cmd)
	case parser.VerbConfig:
		return r.runConfig(ctx, cmd)
	case parser.VerbQueue:
		return r.runQueue(ctx, cmd)
	case parser.VerbBatch:
		return r.runBatch(ctx, cmd)
	case parser.VerbHistory:
		return r.runHistory(ctx, cmd)
	case parser.VerbTrust:
		return r.runTrust(ctx, cmd)
	}
	return "", apperrors.InvalidCommand(string(cmd.Verb))
}

// formatter picks the renderer for one command: --pipeline forces compact
// colorless output, --json forces JSON, --format overrides the configured
// default.
func (r *Router) formatter(cmd parser.ParsedCommand) output.Formatter {
	format := r.deps.Config.OutputFormat
	if v := cmd.Option("--format"); v != "" {
		if parsed, ok := domain.ParseOutputFormat(v); ok {
			format = parsed
		}
	}
	if cmd.HasFlag("--json") {
		format = domain.FormatJSON
	}
	if cmd.HasFlag("--pipeline") {
		return output.NewPipelineFormatter(format)
	}
	return output.NewFormatter(format, output.NewStyleManager(r.deps.Config.ColorMode))
}

// resolvePeer maps a user-supplied peer reference (UUID, name, or unique
// name prefix) to an identity, checking the discovery cache and the trust
// list.
func (r *Router) resolvePeer(ctx context.Context, ref string) (domain.PeerID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		if ref = r.deps.Config.DefaultPeer; ref == "" {
			return domain.PeerID{}, apperrors.MissingArgument("--peer")
		}
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}

	var matches []domain.PeerInfo
	for _, peer := range r.deps.Discover.ResolvePeers(ctx) {
		if strings.EqualFold(peer.Name, ref) {
			return peer.ID, nil
		}
		if strings.HasPrefix(strings.ToLower(peer.Name), strings.ToLower(ref)) {
			matches = append(matches, peer)
		}
	}
	if len(matches) == 1 {
		return matches[0].ID, nil
	}
	if len(matches) > 1 {
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return domain.PeerID{}, apperrors.InvalidArgumentValue("--peer",
			ref+" is ambiguous between "+strings.Join(names, ", "))
	}

	trusted, err := r.deps.Gate.TrustedPeers(ctx)
	if err == nil {
		for id, nickname := range trusted {
			if strings.EqualFold(nickname, ref) {
				return id, nil
			}
		}
	}
	return domain.PeerID{}, apperrors.InvalidArgumentValue("--peer", "no known peer matches "+ref)
}

// waitForOperation blocks until the operation reaches a terminal state,
// following the handler's update stream and re-polling the snapshot in
// case the terminal update was dropped.
func waitForOperation(ctx context.Context, updates <-chan domain.OperationStatus, lookup func(domain.OperationID) (domain.OperationStatus, bool), opID domain.OperationID) (domain.OperationStatus, error) {
	if op, ok := lookup(opID); ok && op.State.Terminal() {
		return op, nil
	}
	poll := time.NewTicker(waitPollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return domain.OperationStatus{}, apperrors.Cancelled()
		case <-poll.C:
			if op, ok := lookup(opID); ok && op.State.Terminal() {
				return op, nil
			}
		case op, ok := <-updates:
			if !ok {
				final, found := lookup(opID)
				if found {
					return final, nil
				}
				return domain.OperationStatus{}, apperrors.Transfer("operation stream closed")
			}
			if op.OperationID == opID && op.State.Terminal() {
				return op, nil
			}
		}
	}
}

func (r *Router) record(tokens []string, result Result) {
	if r.deps.History == nil || len(tokens) == 0 {
		return
	}
	err := r.deps.History.Append(history.Entry{
		Command:    strings.Join(tokens, " "),
		Timestamp:  r.deps.Clock.Now(),
		ExitCode:   result.ExitCode,
		DurationMS: result.ExecutionTime.Milliseconds(),
	})
	if err != nil {
		r.deps.Logger.Debug("record history", zap.Error(err))
	}
}

func failure(err error) Result {
	return Result{
		Success:  false,
		Output:   err.Error(),
		ExitCode: apperrors.ExitCode(err),
	}
}

func warningStrings(warnings []parser.ValidationWarning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.String())
	}
	return out
}
