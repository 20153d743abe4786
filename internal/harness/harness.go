package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/editor"
	"github.com/roach88/coedit/internal/journal"
	"github.com/roach88/coedit/internal/render"
	"github.com/roach88/coedit/internal/watch"
)

const (
	// defaultAwaitTimeout bounds a barrier; scenarios override per step
	// with timeoutMs.
	defaultAwaitTimeout = 2 * time.Second

	// closeTimeout bounds how long a close or kill step waits for the
	// client's stream to drain.
	closeTimeout = 2 * time.Second

	// Poller intervals are deliberately fast so external-change steps
	// resolve well inside an await window.
	pollEvery  = 15 * time.Millisecond
	quietAfter = 10 * time.Millisecond
)

// Harness timing defaults. The fast-path knobs are tight so suites run in
// milliseconds; everything age-driven idles unless a scenario turns it on.
const (
	defaultContentDebounce = 40 * time.Millisecond
	defaultRenderInterval  = 60 * time.Millisecond
	defaultCursorThrottle  = 30 * time.Millisecond
	defaultAutosave        = 10 * time.Minute
	defaultIdle            = time.Hour
)

// buildConfig assembles the scenario's timing on top of the harness
// defaults. Keys were validated at load time.
func buildConfig(timing map[string]int64) *config.TimingConfig {
	cfg := config.Default(defaultAutosave)
	cfg.ContentDebounce = defaultContentDebounce
	cfg.RenderInterval = defaultRenderInterval
	cfg.CursorThrottle = defaultCursorThrottle
	cfg.KeepaliveInterval = defaultIdle
	cfg.StaleThreshold = defaultIdle
	cfg.PingInterval = defaultIdle

	for key, v := range timing {
		d := time.Duration(v) * time.Millisecond
		switch key {
		case "pingIntervalMs":
			cfg.PingInterval = d
		case "staleThresholdMs":
			cfg.StaleThreshold = d
		case "cursorThrottleMs":
			cfg.CursorThrottle = d
		case "contentDebounceMs":
			cfg.ContentDebounce = d
		case "renderIntervalMs":
			cfg.RenderInterval = d
		case "keepaliveIntervalMs":
			cfg.KeepaliveInterval = d
		case "reconnectDelayMs":
			cfg.ReconnectDelay = d
		case "autosaveIntervalMs":
			cfg.AutosaveInterval = d
		}
	}
	return cfg
}

// Run executes a scenario against a fresh engine in an isolated temp
// workspace and evaluates its assertions.
//
// The returned error covers setup problems only (bad scenario, workspace
// or journal failures). Step and assertion failures land in
// Result.Errors with Pass false, so callers outside `go test` (the
// coedit test command) can report them without treating them as crashes.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "coedit-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, doc := range scenario.Documents {
		abs := filepath.Join(dir, filepath.FromSlash(doc.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("seed %s: %w", doc.Path, err)
		}
		if err := os.WriteFile(abs, []byte(doc.Content), 0o644); err != nil {
			return nil, fmt.Errorf("seed %s: %w", doc.Path, err)
		}
	}

	jr, err := journal.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer jr.Close()

	poller := watch.NewPoller(
		watch.WithPollInterval(pollEvery),
		watch.WithQuietWindow(quietAfter),
	)
	eng := editor.New(buildConfig(scenario.Timing),
		editor.WithFileStore(editor.RootedFileStore{Root: dir}),
		editor.WithWatcher(editor.NewRootedWatcher(dir, poller)),
		editor.WithRenderer(render.NewMarkdown()),
		editor.WithJournal(jr),
		editor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx) }()

	result := NewResult()
	st := &runState{
		eng:     eng,
		dir:     dir,
		clients: make(map[string]*recorder),
		touched: make(map[string]bool),
	}
	for _, doc := range scenario.Documents {
		st.touched[doc.Path] = true
	}

	for i, step := range scenario.Steps {
		if err := st.execute(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op, err))
			break
		}
	}

	// Snapshot sessions still open when the steps finished; final_state
	// inspects these. Disk is read after the shutdown flush below, so
	// final_content sees exactly what a restart would load.
	states := make(map[string]editor.SessionInfo)
	for _, info := range eng.Sessions(ctx) {
		states[info.Path] = info
	}

	cancel()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		result.AddError(fmt.Sprintf("engine shutdown: %v", err))
	}

	shadows := make(map[string]string)
	for name, rec := range st.clients {
		if err := rec.waitClosed(closeTimeout); err != nil {
			result.AddError(err.Error())
		}
		if err := rec.failure(); err != nil {
			result.AddError(fmt.Sprintf("client %s: %v", name, err))
		}
		result.Traces[name] = rec.trace()
		shadows[name] = rec.finalShadow()
	}

	disk := make(map[string]string)
	for p := range st.touched {
		if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p))); err == nil {
			disk[p] = string(data)
		}
	}

	actx := &AssertionContext{
		Traces:  result.Traces,
		States:  states,
		Disk:    disk,
		Shadows: shadows,
	}
	for _, msg := range EvaluateAssertions(scenario.Expect, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// runState tracks clients and touched documents across steps.
type runState struct {
	eng     *editor.Engine
	dir     string
	clients map[string]*recorder
	touched map[string]bool
}

func (st *runState) execute(ctx context.Context, step Step) error {
	if err := st.apply(ctx, step); err != nil {
		return err
	}

	if step.Await != nil {
		client := step.Await.Client
		if client == "" {
			client = step.Client
		}
		rec, err := st.recorderFor(client)
		if err != nil {
			return err
		}
		return rec.waitFor(step.Await.Kind, step.Await.Contains, awaitTimeout(step.Await.TimeoutMs))
	}
	return nil
}

func (st *runState) apply(ctx context.Context, step Step) error {
	switch step.Op {
	case OpOpen:
		_, sub, err := st.eng.Open(ctx, step.Path, step.Client)
		if step.ExpectError != "" {
			if err == nil {
				_ = st.eng.Close(ctx, step.Path, step.Client)
				sub.Close()
				return fmt.Errorf("expected %s, open succeeded", step.ExpectError)
			}
			return matchCode(err, step.ExpectError)
		}
		if err != nil {
			return err
		}
		st.clients[step.Client] = newRecorder(step.Client, sub)
		st.touched[step.Path] = true
		return nil

	case OpEdit:
		path, err := st.resolvePath(step)
		if err != nil {
			return err
		}
		return expect(step, st.eng.Edit(ctx, path, step.Client, step.Content))

	case OpCursor:
		return expect(step, st.eng.MoveCursor(step.Client, *step.Cursor))

	case OpPing:
		return expect(step, st.eng.Heartbeat(step.Client))

	case OpSave:
		path, err := st.resolvePath(step)
		if err != nil {
			return err
		}
		flushed, saveErr := st.eng.Save(ctx, path)
		if err := expect(step, saveErr); err != nil {
			return err
		}
		if step.ExpectError == "" && step.ExpectFlushed != nil && flushed != *step.ExpectFlushed {
			return fmt.Errorf("save flushed=%v, expected %v", flushed, *step.ExpectFlushed)
		}
		return nil

	case OpClose:
		path, err := st.resolvePath(step)
		if err != nil {
			return err
		}
		rec, err := st.recorderFor(step.Client)
		if err != nil {
			return err
		}
		if err := expect(step, st.eng.Close(ctx, path, step.Client)); err != nil {
			return err
		}
		if step.ExpectError != "" {
			return nil
		}
		return rec.waitClosed(closeTimeout)

	case OpKill:
		rec, err := st.recorderFor(step.Client)
		if err != nil {
			return err
		}
		// Drop the transport only. The hub keeps counting the client
		// until the stale sweep notices the silence.
		rec.sub.Close()
		return rec.waitClosed(closeTimeout)

	case OpAwait:
		rec, err := st.recorderFor(step.Client)
		if err != nil {
			return err
		}
		return rec.waitFor(step.Kind, step.Contains, awaitTimeout(step.TimeoutMs))

	case OpSettle:
		time.Sleep(time.Duration(step.Ms) * time.Millisecond)
		return nil

	case OpExternalWrite:
		abs := filepath.Join(st.dir, filepath.FromSlash(step.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(abs, []byte(step.Content), 0o644); err != nil {
			return err
		}
		st.touched[step.Path] = true
		return nil

	case OpExternalRemove:
		return os.Remove(filepath.Join(st.dir, filepath.FromSlash(step.Path)))

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (st *runState) recorderFor(client string) (*recorder, error) {
	rec, ok := st.clients[client]
	if !ok {
		return nil, fmt.Errorf("client %q has no open document", client)
	}
	return rec, nil
}

// resolvePath prefers the step's explicit path, falling back to the
// client's open document.
func (st *runState) resolvePath(step Step) (string, error) {
	if step.Path != "" {
		return step.Path, nil
	}
	rec, err := st.recorderFor(step.Client)
	if err != nil {
		return "", err
	}
	return rec.path, nil
}

func awaitTimeout(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultAwaitTimeout
}

// expect reconciles an operation's error with the step's expectError.
func expect(step Step, err error) error {
	if step.ExpectError == "" {
		return err
	}
	return matchCode(err, step.ExpectError)
}

func matchCode(err error, code string) error {
	if err == nil {
		return fmt.Errorf("expected %s, operation succeeded", code)
	}
	var se *editor.SessionError
	if !errors.As(err, &se) || string(se.Code) != code {
		return fmt.Errorf("expected %s, got: %v", code, err)
	}
	return nil
}
