package scanner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/VoxDroid/rarscan/internal/archive"
	"github.com/VoxDroid/rarscan/internal/rarname"
)

// fakeArchive is an in-memory archive; ExtractInto writes its files to disk.
type fakeArchive struct {
	path    string
	files   map[string]string
	failErr error
	calls   *int
}

func (f *fakeArchive) Location() string { return f.path }

func (f *fakeArchive) Entries() []archive.Header {
	var hs []archive.Header
	for name, body := range f.files {
		hs = append(hs, archive.Header{Name: name, UnpackedSize: int64(len(body))})
	}
	return hs
}

func (f *fakeArchive) IsAlreadyExtracted(dest string) (bool, error) {
	a := &archive.Archive{Path: f.path, Headers: f.Entries()}
	return a.IsAlreadyExtracted(dest)
}

func (f *fakeArchive) ExtractInto(_ context.Context, dest string) error {
	if f.calls != nil {
		*f.calls++
	}
	if f.failErr != nil {
		return f.failErr
	}
	for name, body := range f.files {
		p := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeArchive) ListParts() ([]string, error) { return rarname.ListParts(f.path) }

// fakeFS maps archive base names to their contents.
type fakeFS struct {
	contents map[string]map[string]string
	fail     map[string]error
	extracts int
	opened   []string
}

func (fs *fakeFS) open(path string) (Archive, error) {
	fs.opened = append(fs.opened, filepath.Base(path))
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &fakeArchive{
		path:    path,
		files:   fs.contents[filepath.Base(path)],
		failErr: fs.fail[filepath.Base(path)],
		calls:   &fs.extracts,
	}, nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *memRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) actions() []Action {
	var out []Action
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("rar"), 0o644))
}

func bufferLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{MessageKey: "msg", LineEnding: "\n"})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func TestFindRarFilesEnqueuesOnlyRoots(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "show.part01.rar"))
	touch(t, filepath.Join(root, "a", "show.part02.rar"))
	touch(t, filepath.Join(root, "b", "single.rar"))
	touch(t, filepath.Join(root, "b", "deep", "x.part1.rar"))
	touch(t, filepath.Join(root, "b", "notes.txt"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir.rar"), 0o755))

	rec := &memRecorder{}
	q := New(Options{Recorder: rec, Open: (&fakeFS{}).open})
	require.NoError(t, q.FindRarFiles(context.Background(), root))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Summary().Discovered)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "show.part01.rar"),
		filepath.Join(root, "b", "deep", "x.part1.rar"),
		filepath.Join(root, "b", "single.rar"),
	}, q.queue)
	assert.Equal(t, []Action{ActionEnqueued, ActionEnqueued, ActionEnqueued}, rec.actions())
}

func TestFindRarFilesMissingRoot(t *testing.T) {
	q := New(Options{})
	err := q.FindRarFiles(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestProcessExtractsAndFollowsNested(t *testing.T) {
	root := t.TempDir()
	outer := filepath.Join(root, "outer.rar")
	touch(t, outer)
	fs := &fakeFS{contents: map[string]map[string]string{
		"outer.rar": {"movie.mkv": "frames", filepath.Join("inner", "inner.rar"): "rar!"},
		// written to disk by outer's extraction
		"inner.rar": {"subs.srt": "text"},
	}}

	var buf bytes.Buffer
	rec := &memRecorder{}
	q := New(Options{Open: fs.open, Recorder: rec, Logger: bufferLogger(&buf)})
	require.NoError(t, q.FindRarFiles(context.Background(), root))

	sum, err := q.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Analyzed)
	assert.Equal(t, 2, sum.Extracted)
	assert.Equal(t, 1, sum.Nested)
	assert.FileExists(t, filepath.Join(root, "movie.mkv"))
	assert.FileExists(t, filepath.Join(root, "inner", "subs.srt"))

	out := buf.String()
	assert.Contains(t, out, "Scanning for .rar files in '"+root+"'")
	assert.Contains(t, out, "Analyzing '"+outer+"'.")
	assert.Contains(t, out, "-> Extracting into '"+root+"'.")
	assert.Contains(t, out, "-> Archive contains archive '"+filepath.Join("inner", "inner.rar")+"', enqueuing")
	assert.Contains(t, rec.actions(), ActionNested)
}

func TestProcessSkipsAlreadyExtracted(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.rar"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("12345"), 0o644))
	fs := &fakeFS{contents: map[string]map[string]string{"a.rar": {"file.txt": "12345"}}}

	var buf bytes.Buffer
	q := New(Options{Open: fs.open, Logger: bufferLogger(&buf)})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, fs.extracts)
	assert.Equal(t, 1, sum.AlreadyExtracted)
	assert.Contains(t, buf.String(), "-> Archive already extracted.")
}

func TestProcessDryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.rar"))
	fs := &fakeFS{contents: map[string]map[string]string{"a.rar": {"file.txt": "x", "nested.rar": "rar"}}}

	rec := &memRecorder{}
	q := New(Options{Open: fs.open, DryRun: true, Recorder: rec})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, fs.extracts)
	assert.Equal(t, 1, sum.Extracted)
	// nested.rar was never written, so it is not followed
	assert.Equal(t, 0, sum.Nested)
	assert.NoFileExists(t, filepath.Join(root, "file.txt"))
	for _, e := range rec.events {
		if e.Action == ActionExtracted {
			assert.Equal(t, "dry-run", e.Detail)
		}
	}
}

func TestProcessSelfReferenceIsNotRequeued(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "loop.rar"))
	fs := &fakeFS{contents: map[string]map[string]string{"loop.rar": {"loop.rar": "rar"}}}

	q := New(Options{Open: fs.open})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Analyzed)
	assert.Equal(t, []string{"loop.rar"}, fs.opened)
}

func TestProcessRemovesExpiredParts(t *testing.T) {
	root := t.TempDir()
	p1 := filepath.Join(root, "s.part1.rar")
	p2 := filepath.Join(root, "s.part2.rar")
	touch(t, p1)
	touch(t, p2)
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(p1, old, old))
	require.NoError(t, os.Chtimes(p2, now, now))
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("1"), 0o644))
	fs := &fakeFS{contents: map[string]map[string]string{"s.part1.rar": {"f": "1"}}}

	var buf bytes.Buffer
	q := New(Options{Open: fs.open, RemoveAfter: 2 * 24 * time.Hour, Now: func() time.Time { return now }, Logger: bufferLogger(&buf)})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Removed)
	assert.NoFileExists(t, p1)
	assert.FileExists(t, p2)
	assert.Contains(t, buf.String(), "-> Removing archive/part '"+p1+"' last modified on '"+old.UTC().Format("2006-01-02")+"'.")
}

func TestRemovalLogUsesUTCDate(t *testing.T) {
	saved := time.Local
	time.Local = time.FixedZone("UTC+10", 10*60*60)
	t.Cleanup(func() { time.Local = saved })

	root := t.TempDir()
	p := filepath.Join(root, "s.rar")
	touch(t, p)
	// 20:00 UTC is already the next day at UTC+10
	mtime := time.Date(2025, 6, 8, 20, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	now := mtime.Add(30 * 24 * time.Hour)

	var buf bytes.Buffer
	q := New(Options{Open: (&fakeFS{}).open, DryRun: true, RemoveAfter: 24 * time.Hour, Now: func() time.Time { return now }, Logger: bufferLogger(&buf)})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	_, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "last modified on '2025-06-08'.")
}

func TestProcessRemoveDryRunKeepsFiles(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "s.rar")
	touch(t, p)
	old := time.Now().Add(-240 * time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))
	fs := &fakeFS{contents: map[string]map[string]string{}}

	q := New(Options{Open: fs.open, DryRun: true, RemoveAfter: time.Hour})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)
	assert.FileExists(t, p)
}

func TestProcessFutureMtimeIsNotRemoved(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "s.rar")
	touch(t, p)
	future := time.Now().Add(24 * time.Hour)
	require.NoError(t, os.Chtimes(p, future, future))

	q := New(Options{Open: (&fakeFS{}).open, RemoveAfter: time.Nanosecond})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Removed)
	assert.FileExists(t, p)
}

func TestProcessErrorStopsRun(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.rar"))
	touch(t, filepath.Join(root, "b.rar"))
	boom := errors.New("crc mismatch")
	fs := &fakeFS{
		contents: map[string]map[string]string{"a.rar": {"x": "1"}, "b.rar": {"y": "2"}},
		fail:     map[string]error{"a.rar": boom},
	}

	rec := &memRecorder{}
	q := New(Options{Open: fs.open, Recorder: rec})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, q.Len())
	assert.Contains(t, rec.actions(), ActionFailed)
}

func TestProcessKeepGoing(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.rar"))
	touch(t, filepath.Join(root, "b.rar"))
	fs := &fakeFS{
		contents: map[string]map[string]string{"a.rar": {"x": "1"}, "b.rar": {"y": "2"}},
		fail:     map[string]error{"a.rar": errors.New("bad header")},
	}

	q := New(Options{Open: fs.open, KeepGoing: true})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Extracted)
	assert.FileExists(t, filepath.Join(root, "y"))
}

func TestProcessNextEmpty(t *testing.T) {
	q := New(Options{})
	more, err := q.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
}

func TestProcessNextCancelled(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.rar"))
	q := New(Options{Open: (&fakeFS{}).open, KeepGoing: true})
	require.NoError(t, q.FindRarFiles(context.Background(), root))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// copyFixture copies a RAR file from the archive package's testdata to dst.
func copyFixture(t *testing.T, name, dst string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "archive", "testdata", name))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}

func TestRunExtractsNestedRarFiles(t *testing.T) {
	root := t.TempDir()
	copyFixture(t, "outer.rar", filepath.Join(root, "sub", "outer.rar"))

	rec := &memRecorder{}
	q := New(Options{Recorder: rec})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Discovered: 1, Analyzed: 2, Extracted: 2, Nested: 1}, sum)

	got, err := os.ReadFile(filepath.Join(root, "sub", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested payload\n", string(got))

	// a second scan finds both archives already extracted
	q = New(Options{})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err = q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Discovered: 2, Analyzed: 2, AlreadyExtracted: 2}, sum)
}

func TestRunExtractsAndExpiresVolumeSet(t *testing.T) {
	root := t.TempDir()
	p1 := filepath.Join(root, "set.part1.rar")
	p2 := filepath.Join(root, "set.part2.rar")
	copyFixture(t, "set.part1.rar", p1)
	copyFixture(t, "set.part2.rar", p2)
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(p1, old, old))
	require.NoError(t, os.Chtimes(p2, old, old))

	q := New(Options{RemoveAfter: 48 * time.Hour})
	require.NoError(t, q.FindRarFiles(context.Background(), root))
	sum, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Discovered: 1, Analyzed: 1, Extracted: 1, Removed: 2}, sum)

	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "b.txt"))
	assert.NoFileExists(t, p1)
	assert.NoFileExists(t, p2)
}
