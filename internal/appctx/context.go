// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/rs/zerolog"

	"github.com/tasknest/tasknest-cli/internal/api"
	"github.com/tasknest/tasknest-cli/internal/config"
	"github.com/tasknest/tasknest-cli/internal/credstore"
	"github.com/tasknest/tasknest-cli/internal/gateway"
	"github.com/tasknest/tasknest-cli/internal/hostutil"
	"github.com/tasknest/tasknest-cli/internal/observability"
	"github.com/tasknest/tasknest-cli/internal/output"
	"github.com/tasknest/tasknest-cli/internal/session"
	"github.com/tasknest/tasknest-cli/internal/tasks"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Store   credstore.Store
	Session *session.Session
	Gateway *gateway.Client
	Client  *api.Client
	Tasks   *tasks.Service
	Output  *output.Writer

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	Stdout io.Writer
	Stderr io.Writer

	// expiredReason is set by the session observer when the session ends
	// after an authentication failure.
	mu            sync.Mutex
	expiredReason string
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON    bool
	YAML    bool
	Quiet   bool
	Styled  bool
	IDsOnly bool
	Count   bool
	JQ      string

	// Context flags
	BaseURL  string
	Theme    string
	CacheDir string

	// Behavior flags
	Verbose int // 0=off, 1=operations, 2=operations+requests
	Stats   bool
}

// Options overrides the process-wide defaults NewApp would otherwise use.
// Tests set these; the CLI leaves them zero.
type Options struct {
	Stdout     io.Writer
	Stderr     io.Writer
	Store      credstore.Store
	HTTPClient *http.Client
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, flags GlobalFlags, opts Options) *App {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	level := verbosity(flags, cfg)
	log := NewLogger(opts.Stderr, level)

	origin := hostutil.Origin(cfg.BaseURL)
	store := opts.Store
	staticToken := false
	if store == nil {
		if token := os.Getenv("TASKNEST_TOKEN"); token != "" {
			store = credstore.NewStaticStore(token)
			staticToken = true
		} else {
			store = credstore.New(config.GlobalConfigDir(), origin, cfg.Keyring, log)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = config.DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	// Collector always runs to gather stats; hooks control output verbosity.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(level, collector, observability.NewTraceWriterTo(opts.Stderr))

	sess := session.New(store, log)
	gw := gateway.New(cfg.BaseURL, httpClient)

	clientOpts := api.Options{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		Session:    sess,
		Gateway:    gw,
		Hooks:      hooks,
		Logger:     log,
	}
	if staticToken {
		// A token from the environment has no refresh token to renew it.
		clientOpts.Gateway = nil
	}
	client := api.NewClient(clientOpts)

	svc := tasks.NewService(client, tasks.NewOverlay(cfg.CacheDir, origin, log), cfg.CacheTTL, log)
	svc.OnCacheHit = collector.RecordCacheHit

	app := &App{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Session:   sess,
		Gateway:   gw,
		Client:    client,
		Tasks:     svc,
		Collector: collector,
		Hooks:     hooks,
		Flags:     flags,
		Stdout:    opts.Stdout,
		Stderr:    opts.Stderr,
	}
	app.Output = output.New(output.Options{
		Format: app.format(),
		Writer: opts.Stdout,
		Theme:  output.ResolveTheme(cfg.Theme),
		JQ:     flags.JQ,
	})
	sess.Subscribe(app.observeSession)
	return app
}

// NewLogger returns the console logger used by every component. Level 0 logs
// warnings and errors; -v adds debug output.
func NewLogger(w io.Writer, verbose int) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !isTerminal(w)}
	level := zerolog.WarnLevel
	if verbose > 0 {
		level = zerolog.DebugLevel
	}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

// verbosity combines -v, the persisted verbose preference and TASKNEST_DEBUG.
func verbosity(flags GlobalFlags, cfg *config.Config) int {
	level := flags.Verbose
	if level == 0 && cfg.Verbose != nil {
		level = *cfg.Verbose
	}
	// TASKNEST_DEBUG can be "1", "2", or "true" (treated as 2)
	if debugEnv := os.Getenv("TASKNEST_DEBUG"); debugEnv != "" {
		if n, err := strconv.Atoi(debugEnv); err == nil {
			level = max(level, n)
		} else if strings.EqualFold(debugEnv, "true") {
			level = 2
		}
	}
	return level
}

// format picks the output format: specific modes first, then the config.
func (a *App) format() output.Format {
	switch {
	case a.Flags.IDsOnly:
		return output.FormatIDs
	case a.Flags.Count:
		return output.FormatCount
	case a.Flags.Quiet:
		return output.FormatQuiet
	case a.Flags.JSON:
		return output.FormatJSON
	case a.Flags.YAML:
		return output.FormatYAML
	case a.Flags.Styled:
		return output.FormatStyled
	}
	if a.Config != nil {
		return output.ParseFormat(a.Config.Format)
	}
	return output.FormatAuto
}

// observeSession plays the part of the login screen: when the session ends
// on its own, the user is told how to sign back in.
func (a *App) observeSession(ev session.Event) {
	if ev.To != session.StatusExpired {
		return
	}
	a.mu.Lock()
	a.expiredReason = ev.Reason
	a.mu.Unlock()
	a.Log.Warn().Str("reason", ev.Reason).Msg("Session expired. Sign in again with: tasknest auth login")
}

// SessionExpired reports whether the session ended after an authentication
// failure during this invocation, and why.
func (a *App) SessionExpired() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expiredReason, a.expiredReason != ""
}

// Hydrate restores the persisted session and confirms it against the API.
// An expired access token is refreshed once on the way. Without stored
// credentials it returns an auth error and leaves the session anonymous.
func (a *App) Hydrate(ctx context.Context) (*gateway.User, error) {
	if snap := a.Session.Snapshot(); snap.User != nil {
		return snap.User, nil
	}
	if !a.Session.Restore() {
		return nil, output.ErrAuth("Not signed in")
	}
	user, err := a.Client.Me(ctx)
	if err != nil {
		return nil, err
	}
	a.Session.Identify(user)
	return user, nil
}

// StaticToken reports whether credentials come from TASKNEST_TOKEN.
func (a *App) StaticToken() bool {
	return a.Store.Backend() == "env"
}

// OK outputs a success response, including stats if --stats is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.statsEnabled() && a.Collector != nil {
		stats := a.Collector.Summary()
		opts = append(opts, output.WithMeta("stats", stats.StatsParts()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if enabled.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}
	// Machine-consumable modes keep stderr clean.
	if a.statsEnabled() && a.Collector != nil && !a.IsMachineOutput() {
		stats := a.Collector.Summary()
		_, _ = io.WriteString(a.Stderr, "\nStats: "+strings.Join(stats.StatsParts(), " | ")+"\n")
	}
	return nil
}

func (a *App) statsEnabled() bool {
	if a.Flags.Stats {
		return true
	}
	return a.Config != nil && a.Config.Stats != nil && *a.Config.Stats
}

// IsMachineOutput returns true if the output mode is intended for
// programmatic consumption.
func (a *App) IsMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.IDsOnly || a.Flags.Count || a.Flags.JQ != "" {
		return true
	}
	return a.Config != nil && a.Config.Format == "quiet"
}

// IsInteractive returns true if prompts can be shown.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.YAML || a.IsMachineOutput() {
		return false
	}
	return isTerminal(os.Stdin) && isTerminal(a.Stdout)
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
