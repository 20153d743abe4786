package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Configuration key names as they appear in the YAML file and the schema.
const (
	keyPingInterval      = "pingIntervalMs"
	keyStaleThreshold    = "staleThresholdMs"
	keyCursorThrottle    = "cursorThrottleMs"
	keyContentDebounce   = "contentDebounceMs"
	keyRenderInterval    = "renderIntervalMs"
	keyKeepaliveInterval = "keepaliveIntervalMs"
	keyReconnectDelay    = "reconnectDelayMs"
	keyAutosaveInterval  = "autosaveIntervalMs"
)

// Defaults and documented minimums. The CUE schema is authoritative for
// file loading; these mirror it for programmatic construction.
const (
	DefaultPingInterval      = 30 * time.Second
	DefaultStaleThreshold    = 90 * time.Second
	DefaultCursorThrottle    = 150 * time.Millisecond
	DefaultContentDebounce   = 400 * time.Millisecond
	DefaultRenderInterval    = 2 * time.Second
	DefaultKeepaliveInterval = 25 * time.Second
	DefaultReconnectDelay    = 2 * time.Second

	MinPingInterval      = time.Second
	MinStaleThreshold    = 5 * time.Second
	MinCursorThrottle    = 50 * time.Millisecond
	MinContentDebounce   = 100 * time.Millisecond
	MinRenderInterval    = 250 * time.Millisecond
	MinKeepaliveInterval = time.Second
	MinReconnectDelay    = 250 * time.Millisecond
	MinAutosaveInterval  = 500 * time.Millisecond
)

// TimingConfig holds every timing knob of the engine. It is built once at
// startup and read-only afterwards.
//
// AutosaveInterval has no default: a configuration that does not set
// autosaveIntervalMs fails loading with MISSING_CONFIG.
type TimingConfig struct {
	// PingInterval is the cadence at which clients are expected to ping.
	PingInterval time.Duration

	// StaleThreshold is the silence window after which a participant is
	// evicted. This is the only true timeout in the engine.
	StaleThreshold time.Duration

	// CursorThrottle is the minimum spacing between cursor broadcasts
	// per participant.
	CursorThrottle time.Duration

	// ContentDebounce is the quiet window after the last edit before a
	// text-diff broadcast.
	ContentDebounce time.Duration

	// RenderInterval is the cadence of the full-render slow path.
	RenderInterval time.Duration

	// KeepaliveInterval is the cadence of content-free frames pushed on
	// every open channel.
	KeepaliveInterval time.Duration

	// ReconnectDelay is advisory for clients: how long to wait before a
	// reconnect attempt. The server only forwards it.
	ReconnectDelay time.Duration

	// AutosaveInterval is the cadence of the dirty-session flush sweep.
	AutosaveInterval time.Duration
}

// ClientConfig is the subset of timing pushed to browsers in the config
// event on connect. Values are milliseconds.
type ClientConfig struct {
	PingIntervalMs      int64 `json:"pingIntervalMs"`
	CursorThrottleMs    int64 `json:"cursorThrottleMs"`
	ContentDebounceMs   int64 `json:"contentDebounceMs"`
	RenderIntervalMs    int64 `json:"renderIntervalMs"`
	KeepaliveIntervalMs int64 `json:"keepaliveIntervalMs"`
	ReconnectDelayMs    int64 `json:"reconnectDelayMs"`
}

// rawTiming matches the schema field-for-field; CUE decodes into it via
// the json tags.
type rawTiming struct {
	PingIntervalMs      int64 `json:"pingIntervalMs"`
	StaleThresholdMs    int64 `json:"staleThresholdMs"`
	CursorThrottleMs    int64 `json:"cursorThrottleMs"`
	ContentDebounceMs   int64 `json:"contentDebounceMs"`
	RenderIntervalMs    int64 `json:"renderIntervalMs"`
	KeepaliveIntervalMs int64 `json:"keepaliveIntervalMs"`
	ReconnectDelayMs    int64 `json:"reconnectDelayMs"`
	AutosaveIntervalMs  int64 `json:"autosaveIntervalMs"`
}

func (r rawTiming) toConfig() *TimingConfig {
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
	return &TimingConfig{
		PingInterval:      ms(r.PingIntervalMs),
		StaleThreshold:    ms(r.StaleThresholdMs),
		CursorThrottle:    ms(r.CursorThrottleMs),
		ContentDebounce:   ms(r.ContentDebounceMs),
		RenderInterval:    ms(r.RenderIntervalMs),
		KeepaliveInterval: ms(r.KeepaliveIntervalMs),
		ReconnectDelay:    ms(r.ReconnectDelayMs),
		AutosaveInterval:  ms(r.AutosaveIntervalMs),
	}
}

// Load reads a YAML config file and validates it against the embedded
// CUE schema. A missing file is MISSING_CONFIG: every knob has a default
// except autosaveIntervalMs, so a config with no file cannot be complete.
func Load(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewMissingKeyError(keyAutosaveInterval)
		}
		return nil, NewInvalidError("", fmt.Sprintf("reading config file %s", path), err)
	}
	return Parse(path, data)
}

// Parse validates raw YAML bytes against the embedded schema and returns
// the resolved config with defaults applied. The filename is used only
// for error positions.
func Parse(filename string, data []byte) (*TimingConfig, error) {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, NewInvalidError("", "parsing YAML", err)
	}

	ctx := cuecontext.New()
	schemaFile := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schemaFile.Err(); err != nil {
		return nil, fmt.Errorf("compiling timing schema: %w", err)
	}
	schema := schemaFile.LookupPath(cue.ParsePath("#Timing"))

	fileVal := ctx.BuildFile(file)
	if err := fileVal.Err(); err != nil {
		return nil, NewInvalidError("", "building config value", err)
	}

	// The required key is checked against the user's value, before
	// defaults enter the picture, so the error can name it precisely.
	if !fileVal.LookupPath(cue.ParsePath(keyAutosaveInterval)).Exists() {
		return nil, NewMissingKeyError(keyAutosaveInterval)
	}

	unified := schema.Unify(fileVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, NewInvalidError("", cueMessage(err), err)
	}

	var raw rawTiming
	if err := unified.Decode(&raw); err != nil {
		return nil, NewInvalidError("", "decoding config", err)
	}
	return raw.toConfig(), nil
}

// Default returns a config with every default applied. The autosave
// interval must be supplied because it has no default.
func Default(autosave time.Duration) *TimingConfig {
	return &TimingConfig{
		PingInterval:      DefaultPingInterval,
		StaleThreshold:    DefaultStaleThreshold,
		CursorThrottle:    DefaultCursorThrottle,
		ContentDebounce:   DefaultContentDebounce,
		RenderInterval:    DefaultRenderInterval,
		KeepaliveInterval: DefaultKeepaliveInterval,
		ReconnectDelay:    DefaultReconnectDelay,
		AutosaveInterval:  autosave,
	}
}

// Validate re-checks the documented minimums. Load already enforces them
// through the schema; this covers configs built in code.
func (c *TimingConfig) Validate() error {
	if c.AutosaveInterval == 0 {
		return NewMissingKeyError(keyAutosaveInterval)
	}
	checks := []struct {
		key string
		val time.Duration
		min time.Duration
	}{
		{keyPingInterval, c.PingInterval, MinPingInterval},
		{keyStaleThreshold, c.StaleThreshold, MinStaleThreshold},
		{keyCursorThrottle, c.CursorThrottle, MinCursorThrottle},
		{keyContentDebounce, c.ContentDebounce, MinContentDebounce},
		{keyRenderInterval, c.RenderInterval, MinRenderInterval},
		{keyKeepaliveInterval, c.KeepaliveInterval, MinKeepaliveInterval},
		{keyReconnectDelay, c.ReconnectDelay, MinReconnectDelay},
		{keyAutosaveInterval, c.AutosaveInterval, MinAutosaveInterval},
	}
	for _, ck := range checks {
		if ck.val < ck.min {
			return NewInvalidError(ck.key, fmt.Sprintf("%v is below the minimum %v", ck.val, ck.min), nil)
		}
	}
	return nil
}

// ClientView returns the subset of timing pushed to browsers on connect.
func (c *TimingConfig) ClientView() ClientConfig {
	return ClientConfig{
		PingIntervalMs:      c.PingInterval.Milliseconds(),
		CursorThrottleMs:    c.CursorThrottle.Milliseconds(),
		ContentDebounceMs:   c.ContentDebounce.Milliseconds(),
		RenderIntervalMs:    c.RenderInterval.Milliseconds(),
		KeepaliveIntervalMs: c.KeepaliveInterval.Milliseconds(),
		ReconnectDelayMs:    c.ReconnectDelay.Milliseconds(),
	}
}

// cueMessage extracts the first CUE error with its position, matching how
// the rest of the tree reports schema failures.
func cueMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		return fmt.Sprintf("%s (%s:%d)", first.Error(), positions[0].Filename(), positions[0].Line())
	}
	return first.Error()
}
