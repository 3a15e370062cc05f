package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"audiotext/internal/config"
	"audiotext/internal/diagnostics"
	"audiotext/internal/domain"
	"audiotext/internal/jobs"
	"audiotext/internal/session"
	"audiotext/internal/transcribe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// EventName is the runtime event carrying every jobs.Event to the frontend.
const EventName = "job:event"

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.mp3;*.mp4;*.wav;*.flac;*.ogg;*.m4a;*.aac",
	},
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the transcription session, and UI runtime callbacks.
// Session state lives on the owner loop; bindings reach it through loop.Do.
type App struct {
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	log         logger.Logger

	loop     *jobs.Loop
	events   *jobs.EventBus
	session  *session.Session
	stopLoop context.CancelFunc

	mu         sync.Mutex
	settings   domain.Settings
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(config.DefaultSettingsPath(homeDir))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	app := newApp(store, transcribe.NewWhisperEngine(), logger.NewDefaultLogger())
	app.assets = assets
	app.checker = diagnostics.NewChecker()
	app.settings = settings
	app.Diagnostics = app.checker.Run(settings)
	if app.Diagnostics.HasFailures {
		app.log.Warning("startup diagnostics reported failures")
	}
	return app, nil
}

// newApp wires the owner loop, event bus and session and starts the loop.
func newApp(store config.Store, engine transcribe.Engine, log logger.Logger) *App {
	a := &App{
		Store:  store,
		log:    log,
		loop:   jobs.NewLoop(log),
		events: jobs.NewEventBus(1000),
	}
	a.session = session.New(engine, a.loop, a.events,
		session.WithLogger(log),
		session.WithSettings(a.currentSettings),
	)
	a.events.Subscribe(a.emit)

	ctx, cancel := context.WithCancel(context.Background())
	a.stopLoop = cancel
	go a.loop.Run(ctx)
	return a
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Audio to Text Transcriber",
		Width:       1024,
		Height:      720,
		AssetServer: assetOptions,
		Logger:      a.log,
		LogLevel:    logger.INFO,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown detaches the runtime and stops the owner loop.
// A running transcription is abandoned with the process.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()
	a.stopLoop()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// The new settings apply from the next submission on.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()
	return normalized, nil
}

// RefreshDiagnostics reruns dependency checks against current settings.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}
	if a.checker == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostics are not configured")
	}

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// PickInputFile opens a native file dialog for media selection.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Open Audio File",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for transcript output.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// OpenOutputFolder reveals a saved transcript (or its directory) in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	if !info.IsDir() {
		target = filepath.Dir(target)
	}
	return openInFileManager(target)
}

// StartTranscription submits inputPath to the session.
// It returns session.ErrBusy while another transcription runs.
func (a *App) StartTranscription(inputPath string) (domain.TaskInfo, error) {
	if _, err := a.GetSettings(); err != nil {
		return domain.TaskInfo{}, err
	}

	var info domain.TaskInfo
	err := a.loop.Do(context.Background(), func() error {
		if _, err := a.session.Submit(inputPath); err != nil {
			return err
		}
		info = a.session.Active()
		return nil
	})
	return info, err
}

// CurrentTask returns the running task, or an idle snapshot.
func (a *App) CurrentTask() (domain.TaskInfo, error) {
	var info domain.TaskInfo
	err := a.loop.Do(context.Background(), func() error {
		info = a.session.Active()
		return nil
	})
	return info, err
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// currentSettings is read by the session once per submission.
func (a *App) currentSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// emit pushes a published event to the frontend when the runtime is up.
func (a *App) emit(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, EventName, event)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
