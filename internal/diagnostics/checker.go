package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"audiotext/internal/domain"
	"audiotext/internal/transcribe"
)

// RequiredTools are the executables WhisperEngine shells out to.
var RequiredTools = []string{"ffmpeg", "whisper.cpp"}

// FS is the filesystem and PATH surface the checker relies on.
type FS struct {
	LookPath   func(string) (string, error)
	Stat       func(string) (os.FileInfo, error)
	ReadDir    func(string) ([]os.DirEntry, error)
	MkdirAll   func(string, os.FileMode) error
	CreateTemp func(string, string) (*os.File, error)
	Remove     func(string) error
}

// OSFS returns the real operating system implementation.
func OSFS() FS {
	return FS{
		LookPath:   exec.LookPath,
		Stat:       os.Stat,
		ReadDir:    os.ReadDir,
		MkdirAll:   os.MkdirAll,
		CreateTemp: os.CreateTemp,
		Remove:     os.Remove,
	}
}

// Checker validates that a transcription can run with given settings.
type Checker struct {
	fs  FS
	now func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return NewCheckerWithFS(OSFS())
}

// NewCheckerWithFS builds a checker over fs.
func NewCheckerWithFS(fs FS) *Checker {
	return &Checker{fs: fs, now: time.Now}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := make([]domain.DiagnosticItem, 0, len(RequiredTools)+2)
	for _, tool := range RequiredTools {
		items = append(items, c.checkTool(tool))
	}
	items = append(items, c.checkModelPath(settings.ModelPath), c.checkOutputDir(settings.OutputDir))

	report := domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		Items:       items,
	}
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			report.HasFailures = true
			break
		}
	}
	return report
}

// checkTool verifies a required executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "tool_" + name, Name: name}

	path, err := c.fs.LookPath(name)
	if err != nil {
		return fail(item,
			fmt.Sprintf("Tool not found in PATH: %s", name),
			"Install it and make sure the binary is on PATH before transcribing.")
	}
	return pass(item, fmt.Sprintf("Found at %s", path))
}

// checkModelPath validates a model file or a directory containing one.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "model_path", Name: "Model path"}
	modelPath = strings.TrimSpace(modelPath)

	if modelPath == "" {
		return fail(item, "Model path is empty.",
			"Point settings at a whisper.cpp model file or a directory of models.")
	}

	info, err := c.fs.Stat(modelPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fail(item, fmt.Sprintf("Model path does not exist: %s", modelPath),
			"Download a whisper.cpp model and configure its path.")
	case err != nil:
		return fail(item, fmt.Sprintf("Cannot access model path: %s", modelPath),
			"Check permissions for the model path.")
	case !info.IsDir():
		return pass(item, fmt.Sprintf("Model file found: %s", modelPath))
	}

	entries, err := c.fs.ReadDir(modelPath)
	if err != nil {
		return fail(item, fmt.Sprintf("Cannot read model directory: %s", modelPath),
			"Check permissions for the model directory.")
	}
	for _, entry := range entries {
		if !entry.IsDir() && transcribe.IsModelFile(entry.Name()) {
			return pass(item, fmt.Sprintf("Model directory is valid: %s", modelPath))
		}
	}
	return fail(item, fmt.Sprintf("No model files found in directory: %s", modelPath),
		"Place a .bin or .gguf model in this directory or point to a model file directly.")
}

// checkOutputDir validates that transcripts can be written.
// An empty directory means transcripts go next to their source.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "output_dir", Name: "Output directory"}
	outputDir = strings.TrimSpace(outputDir)

	if outputDir == "" {
		return pass(item, "Transcripts are saved next to the source media.")
	}
	if err := c.fs.MkdirAll(outputDir, 0o755); err != nil {
		return fail(item, fmt.Sprintf("Cannot create output directory: %s", outputDir),
			"Choose a writable location or adjust filesystem permissions.")
	}

	probe, err := c.fs.CreateTemp(outputDir, ".write-check-*")
	if err != nil {
		return fail(item, fmt.Sprintf("Output directory is not writable: %s", outputDir),
			"Choose a writable directory for transcripts.")
	}
	probePath := probe.Name()
	_ = probe.Close()
	_ = c.fs.Remove(probePath)

	return pass(item, fmt.Sprintf("Writable directory: %s", outputDir))
}

func pass(item domain.DiagnosticItem, message string) domain.DiagnosticItem {
	item.Status = domain.DiagnosticStatusPass
	item.Message = message
	return item
}

func fail(item domain.DiagnosticItem, message, hint string) domain.DiagnosticItem {
	item.Status = domain.DiagnosticStatusFail
	item.Message = message
	item.Hint = hint
	return item
}
