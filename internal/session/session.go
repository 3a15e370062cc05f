// Package session layers transcription policy on top of jobs.Task:
// one running task at a time, timestamped persistence of results and
// republishing of task notifications to UI subscribers.
//
// A Session is owned by the goroutine behind its dispatcher. Submit and
// the query methods must run there; task callbacks are delivered there,
// so session state needs no lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2/pkg/logger"

	"audiotext/internal/domain"
	"audiotext/internal/jobs"
	"audiotext/internal/transcribe"
)

// ErrBusy is returned by Submit while a transcription is running.
var ErrBusy = errors.New("transcription already running")

// ErrEmptyPath is returned by Submit for a blank input path.
var ErrEmptyPath = errors.New("input media path is required")

// Stages reported on error events.
const (
	StageTranscribing = "transcribing"
	StagePersisting   = "persisting"
)

// PersistError reports a failed transcript write.
type PersistError struct {
	Path string
	Err  error
}

// Error formats the failed target and cause.
func (e *PersistError) Error() string {
	return fmt.Sprintf("save transcript %s: %v", e.Path, e.Err)
}

// Unwrap exposes the write error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// Option customizes a Session.
type Option func(*Session)

// WithClock overrides the time source used for output names.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithWriter overrides transcript persistence.
func WithWriter(w Writer) Option {
	return func(s *Session) { s.writer = w }
}

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithSettings sets the provider read once per submission.
func WithSettings(fn func() domain.Settings) Option {
	return func(s *Session) { s.settings = fn }
}

// WithIDGenerator overrides task ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Session) { s.newID = fn }
}

// Session submits transcriptions and persists their results.
type Session struct {
	engine     transcribe.Engine
	dispatcher jobs.Dispatcher
	bus        *jobs.EventBus
	writer     Writer
	now        func() time.Time
	settings   func() domain.Settings
	newID      func() string
	log        logger.Logger

	// owned by the dispatcher goroutine
	task   *jobs.Task[domain.TranscriptResult]
	taskID string
	source string
}

// New builds a session that runs engine on tasks bound to dispatcher and
// publishes to bus.
func New(engine transcribe.Engine, dispatcher jobs.Dispatcher, bus *jobs.EventBus, opts ...Option) *Session {
	s := &Session{
		engine:     engine,
		dispatcher: dispatcher,
		bus:        bus,
		writer:     AtomicWriter{},
		now:        time.Now,
		settings:   func() domain.Settings { return domain.Settings{} },
		newID:      uuid.NewString,
		log:        logger.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit starts transcribing path and returns the new task ID.
// It returns ErrBusy without side effects while another task runs.
func (s *Session) Submit(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		s.log.Warning("submit rejected: " + ErrEmptyPath.Error())
		return "", ErrEmptyPath
	}
	if s.task != nil {
		s.log.Warning(fmt.Sprintf("submit %s rejected: %v (active task %s)", path, ErrBusy, s.taskID))
		return "", ErrBusy
	}

	settings := s.settings()
	id := s.newID()
	task := jobs.NewTask[domain.TranscriptResult](s.dispatcher)
	s.task, s.taskID, s.source = task, id, path

	s.publish(jobs.Event{
		TaskID:     id,
		Type:       jobs.EventTypeStarted,
		SourcePath: path,
		Message:    "Loading file...",
	})
	s.log.Info(fmt.Sprintf("task %s: transcribing %s", id, path))

	err := task.Start(s.work(path, settings), jobs.Callbacks[domain.TranscriptResult]{
		OnLog: func(message string) {
			s.publish(jobs.Event{TaskID: id, Type: jobs.EventTypeLog, Message: message})
		},
		OnProgress: func(percent int) {
			s.publish(jobs.Event{TaskID: id, Type: jobs.EventTypeProgress, Percent: percent})
		},
		OnFinished: func(result domain.TranscriptResult) {
			s.onTaskFinished(id, settings, result)
		},
		OnError: func(err error) {
			s.onTaskError(id, err)
		},
	})
	if err != nil {
		s.clear(id)
		return "", err
	}
	return id, nil
}

// Busy reports whether a task is running.
func (s *Session) Busy() bool {
	return s.task != nil
}

// Active returns a snapshot of the running task, or an idle snapshot.
func (s *Session) Active() domain.TaskInfo {
	if s.task == nil {
		return domain.TaskInfo{State: domain.TaskStateIdle}
	}
	return domain.TaskInfo{
		ID:         s.taskID,
		SourcePath: s.source,
		State:      s.task.State(),
	}
}

// Done returns a channel closed after the running task's last callback,
// or a closed channel when idle.
func (s *Session) Done() <-chan struct{} {
	if s.task == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.task.Done()
}

// work binds the engine call to path and the settings snapshot.
// It runs on the task goroutine and must not touch session state.
func (s *Session) work(path string, settings domain.Settings) jobs.Work[domain.TranscriptResult] {
	engine := s.engine
	return func(r jobs.Reporter) (domain.TranscriptResult, error) {
		text, err := engine.Transcribe(context.Background(), transcribe.Request{
			InputPath: path,
			ModelPath: settings.ModelPath,
			Language:  settings.Language,
			OnStage: func(stage string) {
				r.Log("Running " + stage + " stage")
				r.Progress(stageProgress(stage))
			},
			OnLog: func(log transcribe.CommandLog) {
				r.Log(fmt.Sprintf("%s exited with code %d", log.Command, log.ExitCode))
			},
		})
		if err != nil {
			return domain.TranscriptResult{}, err
		}
		return domain.TranscriptResult{SourcePath: path, Text: text}, nil
	}
}

// onTaskFinished persists the transcript, then publishes finished and saved.
// A failed write publishes only the error.
func (s *Session) onTaskFinished(id string, settings domain.Settings, result domain.TranscriptResult) {
	defer s.clear(id)

	outputPath := OutputPath(result.SourcePath, settings.OutputDir, s.now())
	if err := s.writer.WriteFile(outputPath, []byte(result.Text)); err != nil {
		s.fail(id, StagePersisting, &PersistError{Path: outputPath, Err: err})
		return
	}

	s.publish(jobs.Event{
		TaskID:     id,
		Type:       jobs.EventTypeFinished,
		SourcePath: result.SourcePath,
		Text:       result.Text,
	})

	saved := domain.PersistedTranscript{OutputPath: outputPath, Text: result.Text}
	s.publish(jobs.Event{
		TaskID:  id,
		Type:    jobs.EventTypeLog,
		Message: "Results saved to " + saved.OutputPath,
	})
	s.publish(jobs.Event{
		TaskID:     id,
		Type:       jobs.EventTypeSaved,
		SourcePath: result.SourcePath,
		OutputPath: saved.OutputPath,
		Text:       saved.Text,
	})
	s.log.Info(fmt.Sprintf("task %s: saved %s", id, saved.OutputPath))
}

// onTaskError republishes an engine failure.
func (s *Session) onTaskError(id string, err error) {
	defer s.clear(id)
	s.fail(id, StageTranscribing, err)
}

// fail publishes one error event and writes one log line.
func (s *Session) fail(id, stage string, err error) {
	message := "Error: " + err.Error()
	s.publish(jobs.Event{
		TaskID:  id,
		Type:    jobs.EventTypeError,
		Stage:   stage,
		Message: message,
	})
	s.log.Error(fmt.Sprintf("task %s: %s failed: %v", id, stage, err))
}

// clear drops the task handle if it still belongs to id.
func (s *Session) clear(id string) {
	if s.taskID != id {
		return
	}
	s.task = nil
	s.taskID = ""
	s.source = ""
}

// publish forwards one event to the bus.
func (s *Session) publish(event jobs.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

// stageProgress maps engine stages to advisory progress.
func stageProgress(stage string) int {
	switch stage {
	case transcribe.StagePreprocessing:
		return 10
	case transcribe.StageTranscribing:
		return 40
	default:
		return 0
	}
}
