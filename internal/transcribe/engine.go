package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Stage names reported through Request.OnStage and EngineError.
const (
	StagePreprocessing = "preprocessing"
	StageTranscribing  = "transcribing"
)

// Engine turns one media file into transcript text.
// Implementations may block for a long time and must be safe for a
// single concurrent call.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Request describes one transcription call.
type Request struct {
	InputPath string
	ModelPath string
	Language  string
	OnStage   func(stage string)
	OnLog     func(log CommandLog)
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// EngineError is a stage-aware engine failure with optional command context.
type EngineError struct {
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats engine failures for logs and UI.
func (e *EngineError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *EngineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// WhisperEngine converts media with ffmpeg and transcribes it with whisper.cpp.
// All intermediate files live in a temporary workspace removed before returning.
type WhisperEngine struct {
	ffmpegPath  string
	whisperPath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readDir     func(name string) ([]os.DirEntry, error)
	readFile    func(name string) ([]byte, error)
}

// NewWhisperEngine constructs the production engine with OS dependencies.
func NewWhisperEngine() *WhisperEngine {
	return &WhisperEngine{
		ffmpegPath:  "ffmpeg",
		whisperPath: "whisper.cpp",
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
	}
}

// Transcribe runs preprocessing and transcription and returns the text.
func (e *WhisperEngine) Transcribe(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return "", &EngineError{
			Stage:   StagePreprocessing,
			Message: "input media path is required",
		}
	}
	if _, err := e.stat(req.InputPath); err != nil {
		return "", &EngineError{
			Stage:   StagePreprocessing,
			Message: fmt.Sprintf("cannot access input media: %s", req.InputPath),
			Err:     err,
		}
	}

	modelPath, err := e.resolveModelPath(req.ModelPath)
	if err != nil {
		return "", &EngineError{
			Stage:   StageTranscribing,
			Message: err.Error(),
			Err:     err,
		}
	}

	tempDir, err := e.mkdirTemp("", "audiotext-*")
	if err != nil {
		return "", &EngineError{
			Stage:   StagePreprocessing,
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = e.removeAll(tempDir) }()

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	emitStage(req.OnStage, StagePreprocessing)
	ffmpegLog, err := e.run(ctx, req.OnLog, e.ffmpegPath, buildFFmpegArgs(req.InputPath, wavPath))
	if err != nil {
		return "", &EngineError{
			Stage:      StagePreprocessing,
			Message:    "ffmpeg audio conversion failed",
			CommandLog: ffmpegLog,
			Err:        err,
		}
	}
	if _, err := e.stat(wavPath); err != nil {
		return "", &EngineError{
			Stage:      StagePreprocessing,
			Message:    "ffmpeg completed but output file is missing",
			CommandLog: ffmpegLog,
			Err:        err,
		}
	}

	textBase := filepath.Join(tempDir, "transcript")
	emitStage(req.OnStage, StageTranscribing)
	whisperLog, err := e.run(ctx, req.OnLog, e.whisperPath, buildWhisperArgs(modelPath, wavPath, textBase, req.Language))
	if err != nil {
		return "", &EngineError{
			Stage:      StageTranscribing,
			Message:    "whisper.cpp transcription failed",
			CommandLog: whisperLog,
			Err:        err,
		}
	}

	content, err := e.readFile(textBase + ".txt")
	if err != nil {
		return "", &EngineError{
			Stage:      StageTranscribing,
			Message:    "whisper.cpp completed but transcript .txt file is missing",
			CommandLog: whisperLog,
			Err:        err,
		}
	}

	return strings.TrimSpace(string(content)), nil
}

// run executes one command and forwards its log.
func (e *WhisperEngine) run(ctx context.Context, onLog func(CommandLog), name string, args []string) (CommandLog, error) {
	result, err := e.runner.Run(ctx, name, args...)
	log := CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if onLog != nil {
		onLog(log)
	}
	return log, err
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(stage string), stage string) {
	if cb != nil {
		cb(stage)
	}
}

// resolveModelPath returns model file path from file or directory input.
func (e *WhisperEngine) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := e.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := e.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	var modelNames []string
	for _, entry := range entries {
		if !entry.IsDir() && IsModelFile(entry.Name()) {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// IsModelFile reports whether name has a whisper.cpp model extension.
func IsModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".bin" || ext == ".gguf"
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}

	return args
}

// newWhisperEngineForTests constructs an engine with injectable dependencies.
func newWhisperEngineForTests(
	ffmpegPath string,
	whisperPath string,
	runner commandRunner,
	removeAll func(path string) error,
) *WhisperEngine {
	return &WhisperEngine{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		runner:      runner,
		mkdirTemp:   os.MkdirTemp,
		removeAll:   removeAll,
		stat:        os.Stat,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
	}
}
