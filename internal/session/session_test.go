package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"audiotext/internal/domain"
	"audiotext/internal/jobs"
	"audiotext/internal/transcribe"
)

// fakeEngine allows injecting custom transcribe behavior per test.
type fakeEngine struct {
	transcribe func(ctx context.Context, req transcribe.Request) (string, error)
}

// Transcribe delegates to injected function.
func (e *fakeEngine) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	if e.transcribe == nil {
		return "", nil
	}
	return e.transcribe(ctx, req)
}

// fakeWriter fails every write.
type fakeWriter struct {
	err error
}

// WriteFile returns the configured error.
func (w *fakeWriter) WriteFile(string, []byte) error {
	return w.err
}

// fakeLogger records lines by level.
type fakeLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (l *fakeLogger) record(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lines == nil {
		l.lines = make(map[string][]string)
	}
	l.lines[level] = append(l.lines[level], message)
}

func (l *fakeLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines[level])
}

func (l *fakeLogger) Print(message string)   { l.record("print", message) }
func (l *fakeLogger) Trace(message string)   { l.record("trace", message) }
func (l *fakeLogger) Debug(message string)   { l.record("debug", message) }
func (l *fakeLogger) Info(message string)    { l.record("info", message) }
func (l *fakeLogger) Warning(message string) { l.record("warning", message) }
func (l *fakeLogger) Error(message string)   { l.record("error", message) }
func (l *fakeLogger) Fatal(message string)   { l.record("fatal", message) }

// harness runs a session on its own owner loop and collects events.
type harness struct {
	loop    *jobs.Loop
	bus     *jobs.EventBus
	session *Session
	log     *fakeLogger
	events  chan jobs.Event
}

// newHarness builds a running loop, bus and session.
func newHarness(t *testing.T, engine transcribe.Engine, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		loop:   jobs.NewLoop(nil),
		bus:    jobs.NewEventBus(100),
		log:    &fakeLogger{},
		events: make(chan jobs.Event, 100),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)
	t.Cleanup(cancel)

	h.bus.Subscribe(func(e jobs.Event) { h.events <- e })
	opts = append([]Option{WithLogger(h.log)}, opts...)
	h.session = New(engine, h.loop, h.bus, opts...)
	return h
}

// submit calls Submit on the owner loop.
func (h *harness) submit(t *testing.T, path string) (string, error) {
	t.Helper()
	var id string
	err := h.loop.Do(context.Background(), func() error {
		var err error
		id, err = h.session.Submit(path)
		return err
	})
	return id, err
}

// busy reads Busy on the owner loop.
func (h *harness) busy(t *testing.T) bool {
	t.Helper()
	var busy bool
	if err := h.loop.Do(context.Background(), func() error {
		busy = h.session.Busy()
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	return busy
}

// waitTerminal collects events until a saved or error event arrives.
func (h *harness) waitTerminal(t *testing.T) []jobs.Event {
	t.Helper()
	var got []jobs.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			got = append(got, e)
			if e.Type == jobs.EventTypeSaved || e.Type == jobs.EventTypeError {
				return got
			}
		case <-deadline:
			t.Fatalf("no terminal event, got %+v", got)
			return nil
		}
	}
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(time.Second)
		return now
	}
}

// countType counts events of one type.
func countType(events []jobs.Event, want jobs.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == want {
			n++
		}
	}
	return n
}

// lastOfType returns the last event of a type.
func lastOfType(t *testing.T, events []jobs.Event, want jobs.EventType) jobs.Event {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == want {
			return events[i]
		}
	}
	t.Fatalf("event type %s not found in %+v", want, events)
	return jobs.Event{}
}

// TestSubmitPersistsTimestampedTranscript checks naming and exact content.
func TestSubmitPersistsTimestampedTranscript(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "clip.mp3")
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	var gotReq transcribe.Request
	engine := &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		gotReq = req
		return "hello world", nil
	}}
	h := newHarness(t, engine,
		WithClock(func() time.Time { return at }),
		WithSettings(func() domain.Settings { return domain.Settings{ModelPath: "/models/base.bin", Language: "en"} }),
	)

	id, err := h.submit(t, source)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := h.waitTerminal(t)

	saved := lastOfType(t, events, jobs.EventTypeSaved)
	wantPath := filepath.Join(dir, "clip_2024-01-02_03-04-05.txt")
	if saved.OutputPath != wantPath {
		t.Fatalf("output path = %q, want %q", saved.OutputPath, wantPath)
	}
	if saved.Text != "hello world" || saved.TaskID != id {
		t.Fatalf("saved event = %+v", saved)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content = %q, want hello world", data)
	}
	if gotReq.InputPath != source || gotReq.ModelPath != "/models/base.bin" || gotReq.Language != "en" {
		t.Fatalf("engine request = %+v", gotReq)
	}
	if countType(events, jobs.EventTypeError) != 0 {
		t.Fatalf("unexpected error events: %+v", events)
	}
	if events[0].Type != jobs.EventTypeStarted {
		t.Fatalf("first event = %s, want started", events[0].Type)
	}
	if h.busy(t) {
		t.Fatal("session should be idle after saved")
	}
}

// TestSubmitEmptyTranscriptIsSaved checks that silence is a success.
func TestSubmitEmptyTranscriptIsSaved(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, &fakeEngine{}, WithClock(fixedClock(time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local))))

	if _, err := h.submit(t, filepath.Join(dir, "silence.wav")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := h.waitTerminal(t)

	saved := lastOfType(t, events, jobs.EventTypeSaved)
	if saved.Text != "" {
		t.Fatalf("text = %q, want empty", saved.Text)
	}
	info, err := os.Stat(saved.OutputPath)
	if err != nil {
		t.Fatalf("stat transcript: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("size = %d, want 0", info.Size())
	}
}

// TestSubmitEngineFailurePublishesErrorAndResets checks the engine failure path.
func TestSubmitEngineFailurePublishesErrorAndResets(t *testing.T) {
	dir := t.TempDir()
	fail := true
	engine := &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		if fail {
			return "", &transcribe.EngineError{Stage: transcribe.StageTranscribing, Message: "unsupported codec"}
		}
		return "recovered", nil
	}}
	h := newHarness(t, engine, WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))))

	if _, err := h.submit(t, filepath.Join(dir, "broken.mkv")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := h.waitTerminal(t)

	errEvent := lastOfType(t, events, jobs.EventTypeError)
	if errEvent.Stage != StageTranscribing {
		t.Fatalf("stage = %q, want %q", errEvent.Stage, StageTranscribing)
	}
	if !strings.Contains(errEvent.Message, "unsupported codec") {
		t.Fatalf("message = %q", errEvent.Message)
	}
	if countType(events, jobs.EventTypeError) != 1 || countType(events, jobs.EventTypeSaved) != 0 {
		t.Fatalf("unexpected terminal events: %+v", events)
	}
	if h.log.count("error") != 1 {
		t.Fatalf("error log lines = %d, want 1", h.log.count("error"))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files written on failure, got %d", len(entries))
	}

	fail = false
	if _, err := h.submit(t, filepath.Join(dir, "broken.mkv")); err != nil {
		t.Fatalf("resubmit error = %v", err)
	}
	events = h.waitTerminal(t)
	if lastOfType(t, events, jobs.EventTypeSaved).Text != "recovered" {
		t.Fatalf("unexpected events after resubmit: %+v", events)
	}
}

// TestSubmitPersistenceFailureIsTaggedSeparately checks write failures.
func TestSubmitPersistenceFailureIsTaggedSeparately(t *testing.T) {
	engine := &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		return "text", nil
	}}
	h := newHarness(t, engine, WithWriter(&fakeWriter{err: errors.New("disk full")}))

	if _, err := h.submit(t, "/media/clip.mp3"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := h.waitTerminal(t)

	errEvent := lastOfType(t, events, jobs.EventTypeError)
	if errEvent.Stage != StagePersisting {
		t.Fatalf("stage = %q, want %q", errEvent.Stage, StagePersisting)
	}
	if !strings.Contains(errEvent.Message, "disk full") {
		t.Fatalf("message = %q", errEvent.Message)
	}
	if countType(events, jobs.EventTypeSaved) != 0 || countType(events, jobs.EventTypeFinished) != 0 {
		t.Fatalf("unexpected success events: %+v", events)
	}
	if h.log.count("error") != 1 {
		t.Fatalf("error log lines = %d, want 1", h.log.count("error"))
	}
	if h.busy(t) {
		t.Fatal("session should accept new work after a persistence failure")
	}
}

// TestSubmitWhileRunningIsRejected checks the busy policy.
func TestSubmitWhileRunningIsRejected(t *testing.T) {
	dir := t.TempDir()
	release := make(chan struct{})
	engine := &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		<-release
		return "first", nil
	}}
	h := newHarness(t, engine, WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))))

	firstID, err := h.submit(t, filepath.Join(dir, "a.wav"))
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if _, err := h.submit(t, filepath.Join(dir, "b.wav")); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Submit() error = %v, want %v", err, ErrBusy)
	}

	var active domain.TaskInfo
	if err := h.loop.Do(context.Background(), func() error {
		active = h.session.Active()
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if active.ID != firstID || active.State != domain.TaskStateRunning {
		t.Fatalf("active = %+v, want running %s", active, firstID)
	}

	close(release)
	events := h.waitTerminal(t)
	for _, e := range events {
		if e.TaskID != firstID {
			t.Fatalf("event for unexpected task: %+v", e)
		}
		if e.SourcePath != "" && e.SourcePath != filepath.Join(dir, "a.wav") {
			t.Fatalf("rejected submission leaked into events: %+v", e)
		}
	}
	if countType(events, jobs.EventTypeStarted) != 1 {
		t.Fatalf("started events = %d, want 1", countType(events, jobs.EventTypeStarted))
	}

	if _, err := h.submit(t, filepath.Join(dir, "b.wav")); err != nil {
		t.Fatalf("Submit() after completion error = %v", err)
	}
	h.waitTerminal(t)
}

// TestSequentialSubmissionsProduceDistinctFiles checks two independent saves.
func TestSequentialSubmissionsProduceDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	engine := &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		return "text of " + filepath.Base(req.InputPath), nil
	}}
	h := newHarness(t, engine, WithClock(fixedClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))))

	source := filepath.Join(dir, "clip.mp3")
	var paths []string
	for i := 0; i < 2; i++ {
		if _, err := h.submit(t, source); err != nil {
			t.Fatalf("Submit() #%d error = %v", i, err)
		}
		paths = append(paths, lastOfType(t, h.waitTerminal(t), jobs.EventTypeSaved).OutputPath)
	}

	if paths[0] == paths[1] {
		t.Fatalf("expected distinct output paths, got %q twice", paths[0])
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
	}
}

// TestSubmitUsesConfiguredOutputDir checks the output directory setting.
func TestSubmitUsesConfiguredOutputDir(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "transcripts")
	at := time.Date(2025, 12, 31, 23, 59, 58, 0, time.Local)
	h := newHarness(t, &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		return "x", nil
	}},
		WithClock(func() time.Time { return at }),
		WithSettings(func() domain.Settings { return domain.Settings{OutputDir: outDir} }),
	)

	if _, err := h.submit(t, "/media/talk.final.mp4"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	saved := lastOfType(t, h.waitTerminal(t), jobs.EventTypeSaved)

	want := filepath.Join(outDir, "talk.final_2025-12-31_23-59-58.txt")
	if saved.OutputPath != want {
		t.Fatalf("output path = %q, want %q", saved.OutputPath, want)
	}
}

// TestSubmitRejectsEmptyPath checks input validation.
func TestSubmitRejectsEmptyPath(t *testing.T) {
	h := newHarness(t, &fakeEngine{})
	if _, err := h.submit(t, "   "); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("Submit() error = %v, want %v", err, ErrEmptyPath)
	}
	if h.busy(t) {
		t.Fatal("session should stay idle")
	}
}

// TestSubmitEventOrder checks started precedes logs and the terminal events.
func TestSubmitEventOrder(t *testing.T) {
	engine := &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		req.OnStage(transcribe.StagePreprocessing)
		req.OnLog(transcribe.CommandLog{Command: "ffmpeg"})
		req.OnStage(transcribe.StageTranscribing)
		return "done", nil
	}}
	h := newHarness(t, engine, WithIDGenerator(func() string { return "task-1" }))

	if _, err := h.submit(t, filepath.Join(t.TempDir(), "a.wav")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	events := h.waitTerminal(t)

	var kinds []string
	for _, e := range events {
		if e.TaskID != "task-1" {
			t.Fatalf("task id = %q, want task-1", e.TaskID)
		}
		kinds = append(kinds, string(e.Type))
	}
	got := strings.Join(kinds, ",")
	want := "started,log,log,progress,log,log,progress,finished,log,saved"
	if got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if events[3].Percent != 10 {
		t.Fatalf("progress event = %+v", events[3])
	}
}

// TestDoneClosesAfterCompletionLog checks Done outlives the saved event.
func TestDoneClosesAfterCompletionLog(t *testing.T) {
	h := newHarness(t, &fakeEngine{transcribe: func(ctx context.Context, req transcribe.Request) (string, error) {
		return "ok", nil
	}})

	var done <-chan struct{}
	if err := h.loop.Do(context.Background(), func() error {
		if _, err := h.session.Submit(filepath.Join(t.TempDir(), "a.wav")); err != nil {
			return err
		}
		done = h.session.Done()
		return nil
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}

	h.waitTerminal(t)
	select {
	case e := <-h.events:
		if e.Type != jobs.EventTypeLog || e.Message != "Task completed successfully!" {
			t.Fatalf("trailing event = %+v", e)
		}
	default:
		t.Fatal("completion log not published before Done closed")
	}

	var idle <-chan struct{}
	_ = h.loop.Do(context.Background(), func() error {
		idle = h.session.Done()
		return nil
	})
	select {
	case <-idle:
	default:
		t.Fatal("Done should be closed when idle")
	}
}

// stepDispatcher queues callbacks until the test runs them one at a time.
// The test goroutine acts as the owner context.
type stepDispatcher struct {
	mu  sync.Mutex
	fns []func()
}

// Dispatch records fn without running it.
func (d *stepDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fns = append(d.fns, fn)
}

// step runs the oldest queued callback, waiting for one to arrive.
func (d *stepDispatcher) step(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.fns) > 0 {
			fn := d.fns[0]
			d.fns = d.fns[1:]
			d.mu.Unlock()
			fn()
			return
		}
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no callback dispatched")
}

// TestNextTaskStartsAfterPreviousTasksLastEvent checks that a submission
// accepted between callbacks never interleaves with the previous task.
func TestNextTaskStartsAfterPreviousTasksLastEvent(t *testing.T) {
	dir := t.TempDir()
	dispatcher := &stepDispatcher{}
	bus := jobs.NewEventBus(100)
	var events []jobs.Event
	bus.Subscribe(func(e jobs.Event) { events = append(events, e) })

	ids := []string{"task-1", "task-2"}
	s := New(&fakeEngine{}, dispatcher, bus,
		WithLogger(&fakeLogger{}),
		WithClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))),
		WithIDGenerator(func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}),
	)

	if _, err := s.Submit(filepath.Join(dir, "a.wav")); err != nil {
		t.Fatalf("Submit(a) error = %v", err)
	}
	for {
		dispatcher.step(t)
		_, err := s.Submit(filepath.Join(dir, "b.wav"))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("Submit(b) error = %v, want %v", err, ErrBusy)
		}
	}
	for lastOfType(t, events, jobs.EventTypeStarted).TaskID != "task-2" || countType(events, jobs.EventTypeSaved) < 2 {
		dispatcher.step(t)
	}

	secondStart := -1
	for i, e := range events {
		if e.TaskID == "task-2" && e.Type == jobs.EventTypeStarted {
			secondStart = i
		}
		if e.TaskID == "task-1" && secondStart >= 0 {
			t.Fatalf("task-1 event %s %q after task-2 started", e.Type, e.Message)
		}
	}
	if last := events[secondStart-1]; last.Message != "Task completed successfully!" {
		t.Fatalf("event before task-2 started = %+v, want completion log", last)
	}
}
