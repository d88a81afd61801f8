package shx_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shx-go/internal/fs"
	"shx-go/internal/metastore"
	"shx-go/internal/model"
	"shx-go/internal/shx"
	"shx-go/internal/testutil"
	"shx-go/internal/vault"
)

const storeFile = "/data/" + model.StoreFileName

type recordingLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}

func (l *recordingLogger) warned(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warnings {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}

type fixture struct {
	fsys   *testutil.MockFilesystemManager
	vault  *vault.MemoryVault
	logger *recordingLogger
	cache  shx.DigestCache
	opts   shx.Options
}

func newFixture() *fixture {
	fsys := testutil.NewMockFilesystemManager()
	fsys.AddDirectory("/data")
	return &fixture{
		fsys:   fsys,
		vault:  testutil.NewTestVault(),
		logger: &recordingLogger{},
		opts:   shx.Options{Workers: 2, WorkDir: "/data"},
	}
}

func (f *fixture) service() *shx.Service {
	return shx.NewService(f.fsys, f.cache, f.vault, testutil.NewTestEncryptor(), f.logger,
		testutil.FixedClock(), testutil.NewStubIDGenerator(), f.opts)
}

func (f *fixture) generation(t *testing.T) int64 {
	t.Helper()
	data, ok := f.fsys.Content(storeFile)
	require.True(t, ok, "store file missing")
	sum, err := metastore.Inspect(data, storeFile)
	require.NoError(t, err)
	return sum.Generation
}

func paths(ids []model.FileIdentity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.AbsPath
	}
	return out
}

func matchPaths(r *shx.SearchReport) []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Identity.AbsPath
	}
	return out
}

func hundred(c byte) []byte { return bytes.Repeat([]byte{c}, 100) }

func TestDeduplicate_DryRun(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	f.fsys.AddFile("/data/c.txt", hundred('y'))

	report, err := f.service().Deduplicate(context.Background(), shx.DedupRequest{Path: "/data", DryRun: true})
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, []string{"/data/a.txt", "/data/b.txt"}, paths(report.Groups[0].Members))
	assert.Equal(t, "/data/a.txt", report.Groups[0].Survivor().AbsPath)
	assert.Equal(t, int64(100), report.Reclaimable)
	assert.Equal(t, 3, report.Considered)
	assert.Empty(t, report.Deleted)
	assert.Empty(t, f.fsys.Removed())
	assert.False(t, f.fsys.Exists(storeFile), "dry run must not write a store")
}

func TestDeduplicate_DryRunIsDeterministic(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/z.bin", hundred('x'))
	f.fsys.AddFile("/data/m.bin", hundred('x'))
	f.fsys.AddFile("/data/sub/a.bin", hundred('x'))
	svc := f.service()

	first, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: "/data", DryRun: true})
	require.NoError(t, err)
	second, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: "/data", DryRun: true})
	require.NoError(t, err)

	require.Len(t, first.Groups, 1)
	assert.Equal(t, "/data/z.bin", first.Groups[0].Survivor().AbsPath, "earliest created wins over path order")
	assert.Equal(t, paths(first.Groups[0].Members), paths(second.Groups[0].Members))
}

func TestDeduplicate_Apply(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	f.fsys.AddFile("/data/c.txt", hundred('y'))

	report, err := f.service().Deduplicate(context.Background(), shx.DedupRequest{Path: "/data"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/b.txt"}, paths(report.Deleted))
	assert.Equal(t, int64(100), report.Reclaimed)
	assert.Equal(t, []string{"/data/b.txt"}, f.fsys.Removed())

	survivor, ok := f.fsys.Content("/data/a.txt")
	require.True(t, ok)
	assert.Equal(t, hundred('x'), survivor)
	assert.True(t, f.fsys.Exists("/data/c.txt"))
}

func TestDeduplicate_ApplyCarriesTags(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	svc := f.service()

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/b.txt", Add: []string{"Keep"}})
	require.NoError(t, err)

	report, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: "/data"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TagsCarried)

	found, err := svc.SearchTag(context.Background(), "/data", "keep")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.txt"}, matchPaths(found))
	assert.Equal(t, int64(2), f.generation(t))
}

func TestDeduplicate_CorruptStoreAbortsBeforeDeleting(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	f.fsys.AddFile(storeFile, []byte("{not json"))

	_, err := f.service().Deduplicate(context.Background(), shx.DedupRequest{Path: "/data"})

	var corrupt *model.CorruptStoreError
	require.ErrorAs(t, err, &corrupt)
	assert.Empty(t, f.fsys.Removed())
}

func TestDeduplicate_UnreadableOnly(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	f.fsys.FailOpen("/data/a.txt", errors.New("permission denied"))
	f.fsys.FailOpen("/data/b.txt", errors.New("permission denied"))

	report, err := f.service().Deduplicate(context.Background(), shx.DedupRequest{Path: "/data", DryRun: true})

	require.ErrorIs(t, err, model.ErrNothingProcessed)
	require.NotNil(t, report)
	assert.Len(t, report.Problems, 2)
	assert.Empty(t, report.Groups)
}

func TestDeduplicate_UnreadableIsExcluded(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	f.fsys.AddFile("/data/c.txt", hundred('x'))
	f.fsys.FailOpen("/data/a.txt", errors.New("permission denied"))

	report, err := f.service().Deduplicate(context.Background(), shx.DedupRequest{Path: "/data"})
	require.NoError(t, err)

	require.Len(t, report.Groups, 1)
	assert.Equal(t, []string{"/data/b.txt", "/data/c.txt"}, paths(report.Groups[0].Members))
	assert.Equal(t, []string{"/data/c.txt"}, f.fsys.Removed())
	require.Len(t, report.Problems, 1)
	var unreadable *model.UnreadableFileError
	assert.ErrorAs(t, report.Problems[0], &unreadable)
}

func TestDeduplicate_DryRunTrustsCache(t *testing.T) {
	f := newFixture()
	f.cache = testutil.NewTestCache(t)
	f.fsys.AddFile("/data/a.txt", hundred('x'))
	f.fsys.AddFile("/data/b.txt", hundred('x'))
	svc := f.service()

	_, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: "/data", DryRun: true})
	require.NoError(t, err)
	opened := f.fsys.OpenCount("/data/a.txt")
	require.Positive(t, opened)

	report, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: "/data", DryRun: true})
	require.NoError(t, err)
	assert.Len(t, report.Groups, 1)
	assert.Equal(t, opened, f.fsys.OpenCount("/data/a.txt"), "cached digests stand in for content")

	_, err = svc.Deduplicate(context.Background(), shx.DedupRequest{Path: "/data"})
	require.NoError(t, err)
	assert.Greater(t, f.fsys.OpenCount("/data/a.txt"), opened, "apply rereads content")
}

// hookedFS lets a test intercept Identify and observe successful removals.
type hookedFS struct {
	*testutil.MockFilesystemManager
	identify func(string) (model.FileIdentity, error)
	onRemove func(string)
}

func (h *hookedFS) Identify(absPath string) (model.FileIdentity, error) {
	if h.identify != nil {
		return h.identify(absPath)
	}
	return h.MockFilesystemManager.Identify(absPath)
}

func (h *hookedFS) Remove(absPath string) error {
	if err := h.MockFilesystemManager.Remove(absPath); err != nil {
		return err
	}
	if h.onRemove != nil {
		h.onRemove(absPath)
	}
	return nil
}

func (f *fixture) serviceOn(fsys shx.FilesystemManager) *shx.Service {
	return shx.NewService(fsys, f.cache, f.vault, testutil.NewTestEncryptor(), f.logger,
		testutil.FixedClock(), testutil.NewStubIDGenerator(), f.opts)
}

func TestDeduplicate_SurvivorGoneSkipsGroup(t *testing.T) {
	tests := []struct {
		name     string
		identify func(id model.FileIdentity) (model.FileIdentity, error)
	}{
		{"gone", func(model.FileIdentity) (model.FileIdentity, error) {
			return model.FileIdentity{}, errors.New("no such file or directory")
		}},
		{"changed", func(id model.FileIdentity) (model.FileIdentity, error) {
			id.Size++
			return id, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.fsys.AddFile("/data/a.txt", hundred('x'))
			f.fsys.AddFile("/data/b.txt", hundred('x'))
			hooked := &hookedFS{MockFilesystemManager: f.fsys}
			hooked.identify = func(p string) (model.FileIdentity, error) {
				id, err := f.fsys.Identify(p)
				if err != nil || p != "/data/a.txt" {
					return id, err
				}
				return tt.identify(id)
			}

			report, err := f.serviceOn(hooked).Deduplicate(context.Background(), shx.DedupRequest{Path: "/data"})
			require.NoError(t, err)

			require.Len(t, report.Skipped, 1)
			assert.Equal(t, "/data/a.txt", report.Skipped[0].Group.Survivor().AbsPath)
			assert.Empty(t, report.Deleted)
			assert.Zero(t, report.Reclaimed)
			assert.Empty(t, f.fsys.Removed())
			assert.True(t, f.fsys.Exists("/data/a.txt"))
			assert.True(t, f.fsys.Exists("/data/b.txt"))
			assert.True(t, f.logger.warned("skipping duplicate group"))
		})
	}
}

func TestDeduplicate_CancelBetweenGroups(t *testing.T) {
	f := newFixture()
	for _, name := range []string{"a1", "a2", "a3"} {
		f.fsys.AddFile("/data/"+name+".txt", hundred('x'))
	}
	for _, name := range []string{"b1", "b2", "b3"} {
		f.fsys.AddFile("/data/"+name+".txt", hundred('y'))
	}
	_, err := f.service().Tag(context.Background(), shx.TagRequest{Path: "/data", Add: []string{"t"}})
	require.NoError(t, err)
	gen := f.generation(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hooked := &hookedFS{MockFilesystemManager: f.fsys, onRemove: func(string) { cancel() }}

	report, err := f.serviceOn(hooked).Deduplicate(ctx, shx.DedupRequest{Path: "/data"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Len(t, report.Groups, 2)

	// The group in progress when the run was cancelled is finished.
	started := report.Groups[0]
	other := report.Groups[1]
	assert.Equal(t, paths(started.Redundant()), paths(report.Deleted))
	assert.Equal(t, paths(started.Redundant()), f.fsys.Removed())
	for _, m := range other.Members {
		assert.True(t, f.fsys.Exists(m.AbsPath), "%s belongs to an unstarted group", m.AbsPath)
	}

	assert.Equal(t, gen+1, f.generation(t), "records of deleted files are flushed")
	found, err := f.service().SearchTag(context.Background(), "/data", "t")
	require.NoError(t, err)
	assert.Len(t, found.Matches, 4)
}

func TestDeduplicate_SubfolderHonorsRootIgnore(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		model.IgnoreFileName: "*.keep\n",
		"sub/a.keep":         "same bytes",
		"sub/b.keep":         "same bytes",
		"sub/c.txt":          "other bytes",
		"sub/d.txt":          "other bytes",
	})
	sub := filepath.Join(root, "sub")
	f := newFixture()
	f.opts.WorkDir = root
	svc := shx.NewService(fs.NewOSFilesystemManager(nil), nil, nil, testutil.NewTestEncryptor(), f.logger,
		testutil.FixedClock(), testutil.NewStubIDGenerator(), f.opts)

	dry, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: sub, DryRun: true})
	require.NoError(t, err)
	require.Len(t, dry.Groups, 1)
	assert.ElementsMatch(t, []string{filepath.Join(sub, "c.txt"), filepath.Join(sub, "d.txt")}, paths(dry.Groups[0].Members))
	assert.Equal(t, 2, dry.Considered)

	applied, err := svc.Deduplicate(context.Background(), shx.DedupRequest{Path: sub})
	require.NoError(t, err)
	require.Len(t, applied.Deleted, 1)
	assert.Equal(t, ".txt", filepath.Ext(applied.Deleted[0].AbsPath))
	for _, name := range []string{"a.keep", "b.keep"} {
		_, err := os.Stat(filepath.Join(sub, name))
		assert.NoError(t, err, "%s is ignored at the root and must survive", name)
	}
}

func TestTag_ThenSearchTag(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/report.pdf", []byte("pdf"))
	f.fsys.AddFile("/data/notes.txt", []byte("notes"))
	svc := f.service()

	report, err := svc.Tag(context.Background(), shx.TagRequest{
		Path: "/data/report.pdf",
		Add:  metastore.ParseTagList("urgent,work"),
	})
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.Equal(t, []string{"urgent", "work"}, report.Files[0].Tags)
	assert.Equal(t, "/data", report.Root)

	found, err := svc.SearchTag(context.Background(), "/data", "URGENT")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/report.pdf"}, matchPaths(found))
	assert.Equal(t, []string{"urgent", "work"}, found.Matches[0].Tags)
	assert.Equal(t, 2, found.Scanned)
}

func TestTag_Idempotent(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := f.service()
	req := shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}}

	_, err := svc.Tag(context.Background(), req)
	require.NoError(t, err)
	before, _ := f.fsys.Content(storeFile)

	report, err := svc.Tag(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, report.Files[0].Tags)

	after, _ := f.fsys.Content(storeFile)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(1), f.generation(t))
}

func TestTag_AddAndRemoveSameTagOnUntaggedFile(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))

	report, err := f.service().Tag(context.Background(), shx.TagRequest{
		Path:   "/data/a.txt",
		Add:    []string{"x"},
		Remove: []string{"x"},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Files[0].Tags)
	assert.False(t, f.fsys.Exists(storeFile), "no change, no flush")
}

func TestTag_Folder(t *testing.T) {
	tests := []struct {
		name      string
		recursive bool
		want      []string
	}{
		{"direct children only", false, []string{"/data/a.txt", "/data/b.txt"}},
		{"recursive", true, []string{"/data/a.txt", "/data/b.txt", "/data/sub/c.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.fsys.AddFile("/data/a.txt", []byte("a"))
			f.fsys.AddFile("/data/b.txt", []byte("b"))
			f.fsys.AddFile("/data/sub/c.txt", []byte("c"))
			svc := f.service()

			_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data", Add: []string{"batch"}, Recursive: tt.recursive})
			require.NoError(t, err)

			found, err := svc.SearchTag(context.Background(), "/data", "batch")
			require.NoError(t, err)
			assert.Equal(t, tt.want, matchPaths(found))
		})
	}
}

func TestTag_CancelledRunDoesNotFlush(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service().Tag(ctx, shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})

	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.fsys.Exists(storeFile))
}

func TestTag_PersistenceFailure(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	f.fsys.FailWrite(storeFile, errors.New("disk full"))

	_, err := f.service().Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})

	var persist *model.PersistenceError
	require.ErrorAs(t, err, &persist)
	assert.Equal(t, "write", persist.Op)
}

func TestSearchTag_FollowsRename(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/old.txt", []byte("content"))
	svc := f.service()

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/old.txt", Add: []string{"moved"}})
	require.NoError(t, err)
	f.fsys.Rename("/data/old.txt", "/data/new.txt")

	found, err := svc.SearchTag(context.Background(), "/data", "moved")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/new.txt"}, matchPaths(found))
	assert.Equal(t, int64(2), f.generation(t), "rebind is persisted")
}

func TestSearchTag_SkipsMissingFiles(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	f.fsys.AddFile("/data/b.txt", []byte("b"))
	svc := f.service()

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data", Add: []string{"t"}})
	require.NoError(t, err)
	f.fsys.Delete("/data/b.txt")

	found, err := svc.SearchTag(context.Background(), "/data", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.txt"}, matchPaths(found))
}

func TestSearchMeta_ImagesOverFiveMillionBytes(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/big.jpg", make([]byte, 5_000_001))
	f.fsys.AddFile("/data/edge.png", make([]byte, 4_999_999))
	f.fsys.AddFile("/data/big.txt", make([]byte, 5_000_001))

	report, err := f.service().SearchMeta(context.Background(), "/data", `{"type":"image","size":{"gt":5000000}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/big.jpg"}, matchPaths(report))
	assert.Equal(t, 3, report.Scanned)
	assert.False(t, f.fsys.Exists(storeFile))
}

func TestSearchMeta_RejectsBeforeScanning(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile(storeFile, []byte("garbage"))

	_, err := f.service().SearchMeta(context.Background(), "/data", `{"and":[{"type":"image"},{"tag":7}]}`)

	var parseErr *model.QueryParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "and[1].tag", parseErr.Path)
}

func TestSearchMeta_MetadataFields(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/photos/beach.jpg", []byte("jpg"))
	f.fsys.AddFile("/data/photos/raw/dsc.png", []byte("png"))
	f.fsys.AddFile("/data/work/plan.md", []byte("md"))
	svc := f.service()

	_, err := svc.SetMood(context.Background(), "/data/photos", "Sunny", "summer 2024")
	require.NoError(t, err)
	_, err = svc.Tag(context.Background(), shx.TagRequest{Path: "/data/work/plan.md", Add: []string{"todo"}})
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{`{"mood":"sunny"}`, []string{"/data/photos/beach.jpg", "/data/photos/raw/dsc.png"}},
		{`{"mood_name":{"contains":"2024"}}`, []string{"/data/photos/beach.jpg", "/data/photos/raw/dsc.png"}},
		{`{"tag":"todo"}`, []string{"/data/work/plan.md"}},
		{`{"or":[{"tag":"todo"},{"type":"png"}]}`, []string{"/data/work/plan.md", "/data/photos/raw/dsc.png"}},
		{`{"not":{"mood":"sunny"}}`, []string{"/data/work/plan.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			report, err := svc.SearchMeta(context.Background(), "/data", tt.query)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, matchPaths(report))
		})
	}
}

func TestSetMood_OverwriteClearsName(t *testing.T) {
	f := newFixture()
	f.fsys.AddDirectory("/data/music")
	svc := f.service()

	_, err := svc.SetMood(context.Background(), "/data/music", "A", "N")
	require.NoError(t, err)
	rec, err := svc.SetMood(context.Background(), "/data/music", "B", "")
	require.NoError(t, err)
	assert.Equal(t, model.Mood{Value: "B"}, rec.Mood)

	report, err := svc.GetMoods(context.Background(), shx.MoodQuery{Path: "/data/music"})
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, model.Mood{Value: "B"}, report.Entries[0].Mood)
}

func TestSetMood_RejectsFile(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))

	_, err := f.service().SetMood(context.Background(), "/data/a.txt", "calm", "")
	require.Error(t, err)
	assert.False(t, f.fsys.Exists(storeFile))
}

func TestGetMoods(t *testing.T) {
	f := newFixture()
	f.fsys.AddDirectory("/data/music/jazz")
	f.fsys.AddDirectory("/data/music/rock")
	f.fsys.AddDirectory("/data/music/classical")
	svc := f.service()

	_, err := svc.SetMood(context.Background(), "/data/music", "Mellow", "")
	require.NoError(t, err)
	_, err = svc.SetMood(context.Background(), "/data/music/rock", "loud", "Friday Night")
	require.NoError(t, err)
	_, err = svc.SetMood(context.Background(), "/data/music/jazz", "smoky", "")
	require.NoError(t, err)

	t.Run("non-recursive reports inherited mood", func(t *testing.T) {
		report, err := svc.GetMoods(context.Background(), shx.MoodQuery{Path: "/data/music/classical"})
		require.NoError(t, err)
		require.Len(t, report.Entries, 1)
		assert.True(t, report.Entries[0].Inherited())
		assert.Equal(t, "/data/music", report.Entries[0].Source.AbsPath)
	})

	t.Run("recursive lists folders with moods", func(t *testing.T) {
		report, err := svc.GetMoods(context.Background(), shx.MoodQuery{Path: "/data/music", Recursive: true})
		require.NoError(t, err)
		var got []string
		for _, e := range report.Entries {
			got = append(got, e.Folder.AbsPath)
		}
		assert.Equal(t, []string{"/data/music", "/data/music/jazz", "/data/music/rock"}, got)
	})

	t.Run("filter matches value or name", func(t *testing.T) {
		report, err := svc.GetMoods(context.Background(), shx.MoodQuery{Path: "/data/music", Recursive: true, Filter: "friday"})
		require.NoError(t, err)
		require.Len(t, report.Entries, 1)
		assert.Equal(t, "/data/music/rock", report.Entries[0].Folder.AbsPath)

		report, err = svc.GetMoods(context.Background(), shx.MoodQuery{Path: "/data/music", Recursive: true, Filter: "MELL"})
		require.NoError(t, err)
		require.Len(t, report.Entries, 1)
		assert.Equal(t, "/data/music", report.Entries[0].Folder.AbsPath)
	})
}

type failingVault struct {
	*vault.MemoryVault
}

func (failingVault) PutSnapshot(context.Context, string, io.Reader, int64, int64) error {
	return errors.New("network down")
}

func TestBackup_UploadsAfterFlush(t *testing.T) {
	f := newFixture()
	f.opts.BackupEnabled = true
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := f.service()

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.vault.Puts())

	gen, err := f.vault.GetSnapshotGeneration(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	_, err = svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.vault.Puts(), "unchanged store is not uploaded")
}

func TestBackup_UploadFailureIsAWarning(t *testing.T) {
	f := newFixture()
	f.opts.BackupEnabled = true
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := shx.NewService(f.fsys, nil, failingVault{testutil.NewTestVault()}, testutil.NewTestEncryptor(), f.logger,
		testutil.FixedClock(), testutil.NewStubIDGenerator(), f.opts)

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})
	require.NoError(t, err)
	assert.True(t, f.logger.warned("snapshot upload failed"))
	assert.Equal(t, int64(1), f.generation(t))
}

func TestBackup_WarnsWhenVaultIsNewer(t *testing.T) {
	f := newFixture()
	f.opts.BackupEnabled = true
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := f.service()

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})
	require.NoError(t, err)
	require.NoError(t, f.vault.PutSnapshot(context.Background(), "id-1", strings.NewReader("x"), 1, 7))

	_, err = svc.SearchTag(context.Background(), "/data", "x")
	require.NoError(t, err)
	assert.True(t, f.logger.warned("vault holds a newer snapshot"))
}

func TestPushAndPullStore(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := f.service()
	dec, err := testutil.NewTestEncryptor().Unlock("")
	require.NoError(t, err)

	_, err = svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"v1"}})
	require.NoError(t, err)
	pushed, err := svc.PushStore(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, "id-1", pushed.StoreID)
	assert.Equal(t, int64(1), pushed.RemoteGeneration)

	_, err = svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"v2"}})
	require.NoError(t, err)

	_, err = svc.PullStore(context.Background(), shx.PullRequest{Path: "/data"}, dec)
	require.ErrorIs(t, err, shx.ErrLocalNewer)

	pulled, err := svc.PullStore(context.Background(), shx.PullRequest{Path: "/data", Force: true}, dec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pulled.LocalGeneration)
	assert.Equal(t, int64(1), pulled.RemoteGeneration)
	assert.Equal(t, 1, pulled.Entries)

	found, err := svc.SearchTag(context.Background(), "/data", "v2")
	require.NoError(t, err)
	assert.Empty(t, found.Matches)
	found, err = svc.SearchTag(context.Background(), "/data", "v1")
	require.NoError(t, err)
	assert.Len(t, found.Matches, 1)
}

func TestPullStore_RecoversCorruptLocalStore(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := f.service()
	dec, _ := testutil.NewTestEncryptor().Unlock("")

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})
	require.NoError(t, err)
	_, err = svc.PushStore(context.Background(), "/data")
	require.NoError(t, err)
	f.fsys.UpdateFile(storeFile, []byte("{broken"), testutil.FixedClock().Now())

	_, err = svc.PullStore(context.Background(), shx.PullRequest{Path: "/data"}, dec)
	var corrupt *model.CorruptStoreError
	require.ErrorAs(t, err, &corrupt)

	_, err = svc.PullStore(context.Background(), shx.PullRequest{Path: "/data", StoreID: "id-1", Force: true}, dec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.generation(t))
}

func TestPullStore_RejectsCorruptSnapshot(t *testing.T) {
	f := newFixture()
	f.fsys.AddFile("/data/a.txt", []byte("a"))
	svc := f.service()
	enc := testutil.NewTestEncryptor()
	dec, _ := enc.Unlock("")

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data/a.txt", Add: []string{"x"}})
	require.NoError(t, err)
	before, _ := f.fsys.Content(storeFile)

	var sealed bytes.Buffer
	require.NoError(t, enc.Encrypt(strings.NewReader(`{"format":"nope"}`), &sealed))
	require.NoError(t, f.vault.PutSnapshot(context.Background(), "id-1", &sealed, int64(sealed.Len()), 5))

	_, err = svc.PullStore(context.Background(), shx.PullRequest{Path: "/data"}, dec)
	var corrupt *model.CorruptStoreError
	require.ErrorAs(t, err, &corrupt)

	after, _ := f.fsys.Content(storeFile)
	assert.Equal(t, before, after)
}

func TestSnapshot_NoVault(t *testing.T) {
	f := newFixture()
	svc := shx.NewService(f.fsys, nil, nil, testutil.NewTestEncryptor(), nil, nil, nil, f.opts)

	_, err := svc.PushStore(context.Background(), "/data")
	assert.ErrorIs(t, err, shx.ErrNoVault)
	_, err = svc.PullStore(context.Background(), shx.PullRequest{Path: "/data"}, nil)
	assert.ErrorIs(t, err, shx.ErrNoVault)
}

func TestPruneStore(t *testing.T) {
	f := newFixture()
	for i := range 3 {
		f.fsys.AddFile(fmt.Sprintf("/data/f%d.txt", i), []byte{byte(i)})
	}
	svc := f.service()

	_, err := svc.Tag(context.Background(), shx.TagRequest{Path: "/data", Add: []string{"t"}})
	require.NoError(t, err)
	f.fsys.Rename("/data/f0.txt", "/data/renamed.txt")
	f.fsys.Delete("/data/f1.txt")

	report, err := svc.PruneStore(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)
	assert.Equal(t, []string{"f1.txt"}, report.Dropped)
	assert.Zero(t, report.CachePruned)

	found, err := svc.SearchTag(context.Background(), "/data", "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/f2.txt", "/data/renamed.txt"}, matchPaths(found))
}

func TestPruneStore_DropsStaleDigests(t *testing.T) {
	f := newFixture()
	cache := testutil.NewTestCache(t)
	f.cache = cache
	f.fsys.AddFile("/data/a.txt", hundred('x'))

	now := testutil.FixedClock().Now()
	require.NoError(t, cache.Store(model.DigestRecord{Key: "path:/gone", HashedAt: now.AddDate(-1, 0, 0)}))
	require.NoError(t, cache.Store(model.DigestRecord{Key: "path:/fresh", HashedAt: now.Add(-time.Hour)}))

	report, err := f.service().PruneStore(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.CachePruned)

	n, err := cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
