// Command transcribe runs one transcription without the desktop shell and
// prints session events to stdout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/wailsapp/wails/v2/pkg/logger"

	"audiotext/internal/config"
	"audiotext/internal/domain"
	"audiotext/internal/jobs"
	"audiotext/internal/session"
	"audiotext/internal/transcribe"
)

type cliOptions struct {
	Config    string `short:"c" long:"config" description:"TOML file with settings overrides"`
	ModelPath string `short:"m" long:"model" description:"whisper.cpp model file or directory"`
	Language  string `short:"l" long:"language" description:"Spoken language code, or auto"`
	OutputDir string `short:"o" long:"output-dir" description:"Transcript directory (default: next to the input)"`
	Args      struct {
		Input string `positional-arg-name:"FILE" description:"Audio or video file"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	var opts cliOptions
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	settings, err := resolveSettings(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcribe: %v\n", err)
		os.Exit(2)
	}

	if err := run(opts.Args.Input, settings, transcribe.NewWhisperEngine(), logger.NewDefaultLogger(), os.Stdout); err != nil {
		os.Exit(1)
	}
}

// resolveSettings layers persisted settings, the optional TOML file and
// command-line flags, in that order.
func resolveSettings(opts cliOptions) (domain.Settings, error) {
	settings := config.DefaultSettings()
	if home, err := os.UserHomeDir(); err == nil {
		loaded, err := config.NewJSONStore(config.DefaultSettingsPath(home)).Load()
		if err != nil {
			return domain.Settings{}, fmt.Errorf("load settings: %w", err)
		}
		settings = loaded
	}

	if opts.Config != "" {
		overridden, err := config.LoadOverrides(opts.Config, settings)
		if err != nil {
			return domain.Settings{}, err
		}
		settings = overridden
	}

	return applyFlags(settings, opts), nil
}

// applyFlags overrides settings with non-empty flag values.
func applyFlags(settings domain.Settings, opts cliOptions) domain.Settings {
	if opts.ModelPath != "" {
		settings.ModelPath = opts.ModelPath
	}
	if opts.Language != "" {
		settings.Language = opts.Language
	}
	if opts.OutputDir != "" {
		settings.OutputDir = opts.OutputDir
	}
	return config.Normalize(settings)
}

// run submits input on a private loop and blocks until the task has
// delivered its last callback.
func run(input string, settings domain.Settings, engine transcribe.Engine, log logger.Logger, out io.Writer) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := jobs.NewLoop(log)
	go loop.Run(ctx)

	bus := jobs.NewEventBus(0)
	result := make(chan error, 1)
	bus.Subscribe(func(e jobs.Event) {
		printEvent(out, e)
		switch e.Type {
		case jobs.EventTypeSaved:
			result <- nil
		case jobs.EventTypeError:
			result <- errors.New(e.Message)
		}
	})

	s := session.New(engine, loop, bus,
		session.WithLogger(log),
		session.WithSettings(func() domain.Settings { return settings }),
	)
	var done <-chan struct{}
	if err := loop.Do(ctx, func() error {
		if _, err := s.Submit(input); err != nil {
			return err
		}
		done = s.Done()
		return nil
	}); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return err
	}

	<-done
	return <-result
}

// printEvent writes one human-readable line per event.
func printEvent(w io.Writer, e jobs.Event) {
	switch e.Type {
	case jobs.EventTypeStarted, jobs.EventTypeLog, jobs.EventTypeError:
		fmt.Fprintln(w, e.Message)
	case jobs.EventTypeProgress:
		fmt.Fprintf(w, "%d%%\n", e.Percent)
	case jobs.EventTypeSaved:
		fmt.Fprintln(w, e.OutputPath)
	}
}
