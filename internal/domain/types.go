package domain

// TaskState tracks the lifecycle of one background task.
type TaskState string

const (
	TaskStateIdle      TaskState = "idle"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelPath string `json:"modelPath" toml:"model_path"`
	OutputDir string `json:"outputDir" toml:"output_dir"`
	Language  string `json:"language" toml:"language"`
}

// TranscriptResult is the output of a successful transcription task.
// Text may be empty.
type TranscriptResult struct {
	SourcePath string `json:"sourcePath"`
	Text       string `json:"text"`
}

// PersistedTranscript is a transcript after it was written to disk.
type PersistedTranscript struct {
	OutputPath string `json:"outputPath"`
	Text       string `json:"text"`
}

// TaskInfo is a snapshot of the session's active task for the UI.
type TaskInfo struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"sourcePath,omitempty"`
	State      TaskState `json:"state"`
}
