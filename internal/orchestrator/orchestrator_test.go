package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/surge-downloader/odoo-images/internal/archive"
	"github.com/surge-downloader/odoo-images/internal/engine/events"
	"github.com/surge-downloader/odoo-images/internal/engine/fetch"
	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/save"
	"github.com/surge-downloader/odoo-images/internal/selection"
	"github.com/surge-downloader/odoo-images/internal/testutil"
)

const testResetDelay = 30 * time.Millisecond

// recorder is a Publisher that keeps every event
type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Publish(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.msgs...)
}

func (r *recorder) notices() []events.NoticeMsg {
	var out []events.NoticeMsg
	for _, m := range r.all() {
		if n, ok := m.(events.NoticeMsg); ok {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) progress() []events.ProgressMsg {
	var out []events.ProgressMsg
	for _, m := range r.all() {
		if p, ok := m.(events.ProgressMsg); ok {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	orch   *Orchestrator
	server *testutil.ImageServer
	saver  *save.Saver
	rec    *recorder
}

func newFixture(t *testing.T, opts ...testutil.ImageServerOption) *fixture {
	t.Helper()
	server := testutil.NewImageServerT(t, opts...)
	saver := save.New(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = saver.Close() })

	rec := &recorder{}
	o := New(fetch.New(&types.RuntimeConfig{Host: server.URL()}), saver, rec)
	o.ResetDelay = testResetDelay
	return &fixture{orch: o, server: server, saver: saver, rec: rec}
}

func (f *fixture) read(t *testing.T, key string) []byte {
	t.Helper()
	data, err := f.saver.Bucket.ReadAll(context.Background(), key)
	require.NoError(t, err)
	return data
}

func zipEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, file := range zr.File {
		rc, err := file.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[file.Name] = body
	}
	return out
}

func TestRun_SingleProduct(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Run(context.Background(), Refs([]types.ProductRef{{ID: "12", Label: "869001"}}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, "869001.jpg", res.Output)
	assert.Equal(t, 1, res.Saved)
	assert.Equal(t, []string{"12"}, f.server.RequestedIDs())
	assert.Equal(t, testutil.JPEG("12"), f.read(t, "869001.jpg"))

	exists, err := f.saver.Bucket.Exists(context.Background(), types.ArchiveName)
	require.NoError(t, err)
	assert.False(t, exists, "single product must not produce an archive")

	prog := f.rec.progress()
	require.NotEmpty(t, prog)
	assert.Equal(t, 100.0, prog[len(prog)-1].Percent)
}

func TestRun_SingleProductLabelFallsBackToID(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Run(context.Background(), Refs([]types.ProductRef{{ID: "77"}}))
	require.NoError(t, err)
	assert.Equal(t, "77.jpg", res.Output)
}

func TestRun_SingleProductFetchFailure(t *testing.T) {
	f := newFixture(t, testutil.WithStatus("5", http.StatusNotFound))

	res, err := f.orch.Run(context.Background(), Refs([]types.ProductRef{{ID: "5", Label: "x"}}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Empty(t, res.Output)
	assert.Zero(t, res.Saved)
	require.Len(t, res.Failed, 1)

	notices := f.rec.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeFetchFailed, notices[0].Text)
	assert.Equal(t, events.NoticeError, notices[0].Kind)
}

func TestRun_MultiProductArchive(t *testing.T) {
	f := newFixture(t)
	refs := []types.ProductRef{{ID: "1", Label: "A1"}, {ID: "2"}, {ID: "3", Label: "C3"}}

	res, err := f.orch.Run(context.Background(), Refs(refs))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, types.ArchiveName, res.Output)
	assert.Equal(t, 3, res.Saved)
	assert.Equal(t, []string{"1", "2", "3"}, f.server.RequestedIDs(), "fetches follow selection order")

	entries := zipEntries(t, f.read(t, types.ArchiveName))
	assert.Equal(t, map[string][]byte{
		"A1.jpg": testutil.JPEG("1"),
		"2.jpg":  testutil.JPEG("2"),
		"C3.jpg": testutil.JPEG("3"),
	}, entries)
}

func TestRun_MultiProductPartialFailure(t *testing.T) {
	f := newFixture(t, testutil.WithStatus("2", http.StatusInternalServerError))
	refs := []types.ProductRef{{ID: "1", Label: "A"}, {ID: "2", Label: "B"}, {ID: "3", Label: "C"}}

	res, err := f.orch.Run(context.Background(), Refs(refs))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, []types.ProductRef{{ID: "2", Label: "B"}}, res.Failed)

	entries := zipEntries(t, f.read(t, types.ArchiveName))
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"A.jpg", "C.jpg"}, names)

	var failed []events.ItemFailedMsg
	for _, m := range f.rec.all() {
		if fm, ok := m.(events.ItemFailedMsg); ok {
			failed = append(failed, fm)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].Ref.ID)
	var se *fetch.StatusError
	assert.ErrorAs(t, failed[0].Err, &se)

	assert.Equal(t, []string{"2"}, f.orch.Status().Failed)
}

func TestRun_MultiProductAllFail(t *testing.T) {
	f := newFixture(t, testutil.WithMissingByDefault())

	res, err := f.orch.Run(context.Background(), Refs([]types.ProductRef{{ID: "1"}, {ID: "2"}}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.ErrorIs(t, res.Err, ErrNothingDownloaded)
	assert.Empty(t, res.Output)
	assert.Len(t, res.Failed, 2)

	exists, err := f.saver.Bucket.Exists(context.Background(), types.ArchiveName)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_DuplicateLabelsKeepAllEntries(t *testing.T) {
	f := newFixture(t)
	refs := []types.ProductRef{{ID: "1", Label: "same"}, {ID: "2", Label: "same"}}

	_, err := f.orch.Run(context.Background(), Refs(refs))
	require.NoError(t, err)

	entries := zipEntries(t, f.read(t, types.ArchiveName))
	assert.Equal(t, testutil.JPEG("1"), entries["same.jpg"])
	assert.Equal(t, testutil.JPEG("2"), entries["same (1).jpg"])
}

func TestRun_ProgressMonotonicAndFullOnlyAfterFinalize(t *testing.T) {
	f := newFixture(t)
	refs := []types.ProductRef{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}

	_, err := f.orch.Run(context.Background(), Refs(refs))
	require.NoError(t, err)

	prog := f.rec.progress()
	require.NotEmpty(t, prog)
	assert.Equal(t, 0.0, prog[0].Percent)

	for i := 1; i < len(prog); i++ {
		assert.GreaterOrEqual(t, prog[i].Percent, prog[i-1].Percent, "progress went backwards at %d", i)
	}

	for _, p := range prog {
		if p.Phase == events.PhaseFetch {
			assert.Less(t, p.Percent, 100.0, "fetch phase must not reach 100")
		}
	}

	last := prog[len(prog)-1]
	assert.Equal(t, 100.0, last.Percent)
	assert.Equal(t, events.PhaseArchive, last.Phase)

	var fetchSteps []int
	for _, p := range prog {
		if p.Phase == events.PhaseFetch && p.Total > 0 {
			fetchSteps = append(fetchSteps, p.Completed)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, fetchSteps)
}

// blockingFetcher holds every fetch until release is closed
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (b *blockingFetcher) Fetch(ctx context.Context, ref types.ProductRef) ([]byte, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.started)
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return testutil.JPEG(ref.ID), nil
}

func TestStart_RejectsWhileRunning(t *testing.T) {
	rec := &recorder{}
	bf := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	o := New(bf, save.New(memblob.OpenBucket(nil)), rec)
	o.ResetDelay = testResetDelay

	h, err := o.Start(context.Background(), Refs([]types.ProductRef{{ID: "1"}, {ID: "2"}}))
	require.NoError(t, err)
	<-bf.started

	before := o.Status()
	_, err = o.Start(context.Background(), Refs([]types.ProductRef{{ID: "9"}}))
	require.ErrorIs(t, err, ErrJobInProgress)

	after := o.Status()
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, types.StatusRunning, after.Status)

	require.Eventually(t, func() bool { return len(rec.notices()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, NoticeBusy, rec.notices()[0].Text)

	close(bf.release)
	res := h.Wait()
	assert.Equal(t, types.StatusCompleted, res.Status)

	bf.mu.Lock()
	assert.Equal(t, 2, bf.calls, "rejected trigger must not fetch")
	bf.mu.Unlock()
}

func TestStart_RejectedDuringResetDelay(t *testing.T) {
	f := newFixture(t)
	f.orch.ResetDelay = 200 * time.Millisecond

	h, err := f.orch.Start(context.Background(), Refs([]types.ProductRef{{ID: "1"}}))
	require.NoError(t, err)
	<-h.Terminal()

	_, err = f.orch.Start(context.Background(), Refs([]types.ProductRef{{ID: "2"}}))
	assert.ErrorIs(t, err, ErrJobInProgress)

	h.Wait()
	h2, err := f.orch.Start(context.Background(), Refs([]types.ProductRef{{ID: "2"}}))
	require.NoError(t, err)
	h2.Wait()
	assert.Equal(t, []string{"1", "2"}, f.server.RequestedIDs())
}

func TestRun_ResetAfterDelay(t *testing.T) {
	f := newFixture(t)
	f.orch.ResetDelay = 100 * time.Millisecond

	h, err := f.orch.Start(context.Background(), Refs([]types.ProductRef{{ID: "1"}}))
	require.NoError(t, err)

	<-h.Terminal()
	terminalAt := time.Now()
	assert.Equal(t, types.StatusCompleted, f.orch.Status().Status)
	assert.True(t, f.orch.Busy())

	<-h.Done()
	assert.GreaterOrEqual(t, time.Since(terminalAt), 80*time.Millisecond)
	assert.Equal(t, types.StatusIdle, f.orch.Status().Status)
	assert.False(t, f.orch.Busy())

	msgs := f.rec.all()
	assert.Equal(t, events.JobStartedMsg{JobID: h.ID}, msgs[0])
	assert.Equal(t, events.JobResetMsg{JobID: h.ID}, msgs[len(msgs)-1])
}

func TestRun_PreconditionFailures(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selector
		wantErr error
		notice  string
	}{
		{
			name:    "no selection",
			sel:     Refs(nil),
			wantErr: selection.ErrNoSelection,
			notice:  NoticeNoSelection,
		},
		{
			name: "missing ID column",
			sel: func(context.Context) ([]types.ProductRef, error) {
				return nil, selection.ErrMissingIDColumn
			},
			wantErr: selection.ErrMissingIDColumn,
			notice:  NoticeNoIDColumn,
		},
		{
			name: "empty result without error",
			sel: func(context.Context) ([]types.ProductRef, error) {
				return nil, nil
			},
			wantErr: selection.ErrNoSelection,
			notice:  NoticeNoSelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orch.ResetDelay = time.Hour // must not be waited on

			done := make(chan Result, 1)
			go func() {
				res, err := f.orch.Run(context.Background(), tt.sel)
				assert.NoError(t, err)
				done <- res
			}()

			var res Result
			select {
			case res = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("precondition failure should release the slot immediately")
			}

			assert.Equal(t, types.StatusFailed, res.Status)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Zero(t, f.server.RequestCount.Load(), "no network activity expected")
			assert.False(t, f.orch.Busy())

			notices := f.rec.notices()
			require.Len(t, notices, 1)
			assert.Equal(t, tt.notice, notices[0].Text)
		})
	}
}

func TestRun_ArchiveLoadFailure(t *testing.T) {
	f := newFixture(t)
	f.orch.ResetDelay = time.Hour
	f.orch.LoadArchive = func(context.Context) (archive.Builder, error) {
		return nil, errors.New("module unavailable")
	}

	res, err := f.orch.Run(context.Background(), Refs([]types.ProductRef{{ID: "1"}, {ID: "2"}}))
	require.NoError(t, err)

	assert.Equal(t, types.StatusFailed, res.Status)
	var le *archive.LoadError
	require.ErrorAs(t, res.Err, &le)
	assert.Zero(t, f.server.RequestCount.Load())

	notices := f.rec.notices()
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Text, "module unavailable")
}

type failingSaver struct{}

func (failingSaver) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestRun_SaveFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.orch.Saver = failingSaver{}

	for _, refs := range [][]types.ProductRef{
		{{ID: "1"}},
		{{ID: "1"}, {ID: "2"}},
	} {
		res, err := f.orch.Run(context.Background(), Refs(refs))
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		assert.EqualError(t, res.Err, "disk full")
		assert.False(t, f.orch.Busy())
	}

	for _, n := range f.rec.notices() {
		assert.Contains(t, n.Text, "disk full")
	}
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, types.ProductRef) ([]byte, error) {
	panic("boom")
}

func TestRun_PanicStillResets(t *testing.T) {
	rec := &recorder{}
	o := New(panicFetcher{}, save.New(memblob.OpenBucket(nil)), rec)
	o.ResetDelay = testResetDelay

	res, err := o.Run(context.Background(), Refs([]types.ProductRef{{ID: "1"}, {ID: "2"}}))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrJobPanicked)
	assert.False(t, o.Busy())

	_, err = o.Run(context.Background(), Refs([]types.ProductRef{{ID: "1"}}))
	assert.NoError(t, err, "slot must be free after a crashed job")
}

func TestRun_FetchesAreSequential(t *testing.T) {
	f := newFixture(t, testutil.WithLatency(10*time.Millisecond))
	refs := []types.ProductRef{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}, {ID: "5"}}

	_, err := f.orch.Run(context.Background(), Refs(refs))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.server.MaxActive.Load())
}

func TestRun_CanceledContextSkipsDelay(t *testing.T) {
	f := newFixture(t)
	f.orch.ResetDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	h, err := f.orch.Start(ctx, Refs([]types.ProductRef{{ID: "1"}}))
	require.NoError(t, err)
	<-h.Terminal()
	cancel()

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown should cut the reset delay short")
	}
	assert.False(t, f.orch.Busy())
}

// prefixFailFetcher serves every image except IDs starting with "x"
type prefixFailFetcher struct{}

func (prefixFailFetcher) Fetch(_ context.Context, ref types.ProductRef) ([]byte, error) {
	if strings.HasPrefix(ref.ID, "x") {
		return nil, errors.New("image missing")
	}
	return testutil.JPEG(ref.ID), nil
}

func manyRefs(prefix string, n int) []types.ProductRef {
	refs := make([]types.ProductRef, n)
	for i := range refs {
		refs[i] = types.ProductRef{ID: fmt.Sprintf("%s%d", prefix, i+1)}
	}
	return refs
}

func TestRun_SlowSubscriberReceivesLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	o := New(prefixFailFetcher{}, save.New(memblob.OpenBucket(nil)), bus)
	o.ResetDelay = time.Millisecond

	sub, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	type tally struct {
		started, complete, failed, jobErr, reset int
		notices                                  []string
	}
	got := make(map[string]*tally)
	var order []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		resets := 0
		tallyFor := func(id string) *tally {
			tl, ok := got[id]
			if !ok {
				tl = &tally{}
				got[id] = tl
				order = append(order, id)
			}
			return tl
		}
		for msg := range sub {
			time.Sleep(time.Millisecond)
			switch m := msg.(type) {
			case events.JobStartedMsg:
				tallyFor(m.JobID).started++
			case events.JobCompleteMsg:
				tallyFor(m.JobID).complete++
			case events.ItemFailedMsg:
				tallyFor(m.JobID).failed++
			case events.JobErrorMsg:
				tallyFor(m.JobID).jobErr++
			case events.NoticeMsg:
				tl := tallyFor(m.JobID)
				tl.notices = append(tl.notices, m.Text)
			case events.JobResetMsg:
				tallyFor(m.JobID).reset++
				resets++
			}
			if resets == 3 {
				return
			}
		}
	}()

	res, err := o.Run(context.Background(), Refs(manyRefs("", 300)))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)

	res, err = o.Run(context.Background(), Refs(manyRefs("x", 300)))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrNothingDownloaded)

	res, err = o.Run(context.Background(), Refs(nil))
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("subscriber did not see every reset")
	}

	require.Len(t, order, 3)
	ok := got[order[0]]
	assert.Equal(t, 1, ok.started)
	assert.Equal(t, 1, ok.complete)
	assert.Zero(t, ok.failed)
	assert.Equal(t, 1, ok.reset)

	allFail := got[order[1]]
	assert.Equal(t, 1, allFail.complete)
	assert.Equal(t, 300, allFail.failed)
	assert.Equal(t, []string{NoticeNoneSaved}, allFail.notices)
	assert.Equal(t, 1, allFail.reset)

	empty := got[order[2]]
	assert.Equal(t, 1, empty.jobErr)
	assert.Equal(t, []string{NoticeNoSelection}, empty.notices)
	assert.Equal(t, 1, empty.reset)
}
