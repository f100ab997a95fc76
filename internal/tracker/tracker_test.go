package tracker

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ChuLiYu/fontpack/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// newTestTracker creates a tracker pre-registered with the given fonts
func newTestTracker(t *testing.T, ids ...types.FontID) *Tracker {
	t.Helper()
	tr := New()
	if err := tr.Register(ids...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return tr
}

// advanceTo walks a font forward to the target stage
func advanceTo(t *testing.T, tr *Tracker, id types.FontID, target types.Stage) {
	t.Helper()
	order := []types.Stage{
		types.StageChecked, types.StageDownloading, types.StageDownloaded,
		types.StageValidated, types.StagePlanned, types.StageCompleted,
	}
	for _, stage := range order {
		if err := tr.Advance(id, stage, ""); err != nil {
			t.Fatalf("advance %s to %s: %v", id, stage, err)
		}
		if stage == target {
			return
		}
	}
	t.Fatalf("stage %s not reachable by Advance", target)
}

// assertNoError asserts no error occurred
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// assertError asserts a specific error occurred
func assertError(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error %v, got nil", want)
		return
	}
	if !errors.Is(err, want) {
		t.Errorf("expected error %v, got %v", want, err)
	}
}

// assertStage asserts the current stage of a font
func assertStage(t *testing.T, tr *Tracker, id types.FontID, want types.Stage) {
	t.Helper()
	st, ok := tr.Get(id)
	if !ok {
		t.Errorf("font %s not found", id)
		return
	}
	if st.Stage != want {
		t.Errorf("font %s stage: got %s, want %s", id, st.Stage, want)
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewTracker(t *testing.T) {
	tr := New()

	if tr.fonts == nil {
		t.Error("fonts map not initialized")
	}
	if tr.Len() != 0 {
		t.Errorf("Len: got %d, want 0", tr.Len())
	}
	if !tr.AllTerminal() {
		t.Error("empty tracker should be vacuously terminal")
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Tracker)
		ids     []types.FontID
		wantErr error
	}{
		{
			name:    "Normal registration",
			setup:   func(tr *Tracker) {},
			ids:     []types.FontID{"iming", "lxgw"},
			wantErr: nil,
		},
		{
			name:    "Duplicate across calls",
			setup:   func(tr *Tracker) { tr.Register("iming") },
			ids:     []types.FontID{"iming"},
			wantErr: ErrDuplicateFont,
		},
		{
			name:    "Duplicate within one call",
			setup:   func(tr *Tracker) {},
			ids:     []types.FontID{"iming", "iming"},
			wantErr: ErrDuplicateFont,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			tt.setup(tr)

			err := tr.Register(tt.ids...)

			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			for _, id := range tt.ids {
				assertStage(t, tr, id, types.StagePending)
			}
			if got := tr.Stats()[types.StagePending]; got != len(tt.ids) {
				t.Errorf("pending count: got %d, want %d", got, len(tt.ids))
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Tracker)
		id      types.FontID
		next    types.Stage
		wantErr error
	}{
		{
			name:    "Pending to checked",
			setup:   func(tr *Tracker) {},
			id:      "iming",
			next:    types.StageChecked,
			wantErr: nil,
		},
		{
			name:    "Skipping a stage is illegal",
			setup:   func(tr *Tracker) {},
			id:      "iming",
			next:    types.StageDownloading,
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "Backwards is illegal",
			setup:   func(tr *Tracker) { tr.Advance("iming", types.StageChecked, "") },
			id:      "iming",
			next:    types.StagePending,
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "Unknown font",
			setup:   func(tr *Tracker) {},
			id:      "nope",
			next:    types.StageChecked,
			wantErr: ErrUnknownFont,
		},
		{
			name:    "Terminal font rejects further transitions",
			setup:   func(tr *Tracker) { tr.Fail("iming", errors.New("boom")) },
			id:      "iming",
			next:    types.StageChecked,
			wantErr: ErrAlreadyTerminal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, "iming")
			tt.setup(tr)

			err := tr.Advance(tt.id, tt.next, "")

			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			assertStage(t, tr, tt.id, tt.next)
		})
	}
}

func TestAdvanceRecordsVersion(t *testing.T) {
	tr := newTestTracker(t, "iming")

	assertNoError(t, tr.Advance("iming", types.StageChecked, "v8.00"))
	st, _ := tr.Get("iming")
	if st.Version != "v8.00" {
		t.Errorf("version: got %q, want %q", st.Version, "v8.00")
	}

	// Empty version keeps the recorded one
	assertNoError(t, tr.Advance("iming", types.StageDownloading, ""))
	st, _ = tr.Get("iming")
	if st.Version != "v8.00" {
		t.Errorf("version after empty update: got %q, want %q", st.Version, "v8.00")
	}
}

func TestFullPipelineWalk(t *testing.T) {
	tr := newTestTracker(t, "iming")

	advanceTo(t, tr, "iming", types.StageCompleted)

	assertStage(t, tr, "iming", types.StageCompleted)
	if !tr.AllTerminal() {
		t.Error("completed font should be terminal")
	}
	stats := tr.Stats()
	if stats[types.StageCompleted] != 1 {
		t.Errorf("completed count: got %d, want 1", stats[types.StageCompleted])
	}
}

func TestSkip(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*testing.T, *Tracker)
		wantErr error
	}{
		{
			name:    "Skip from checked",
			setup:   func(t *testing.T, tr *Tracker) { advanceTo(t, tr, "iming", types.StageChecked) },
			wantErr: nil,
		},
		{
			name:    "Skip from pending is illegal",
			setup:   func(t *testing.T, tr *Tracker) {},
			wantErr: ErrIllegalTransition,
		},
		{
			name:    "Skip from downloaded is illegal",
			setup:   func(t *testing.T, tr *Tracker) { advanceTo(t, tr, "iming", types.StageDownloaded) },
			wantErr: ErrIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, "iming")
			tt.setup(t, tr)

			err := tr.Skip("iming")

			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			assertStage(t, tr, "iming", types.StageSkipped)
			if !tr.AllTerminal() {
				t.Error("skipped font should be terminal")
			}
		})
	}
}

func TestFail(t *testing.T) {
	tr := newTestTracker(t, "iming", "lxgw")

	// Fail from pending
	assertNoError(t, tr.Fail("iming", errors.New("resolve blew up")))
	st, _ := tr.Get("iming")
	if st.Stage != types.StageFailed {
		t.Errorf("stage: got %s, want failed", st.Stage)
	}
	if st.Error != "resolve blew up" {
		t.Errorf("error: got %q", st.Error)
	}

	// Fail from a mid-pipeline stage
	advanceTo(t, tr, "lxgw", types.StagePlanned)
	assertNoError(t, tr.Fail("lxgw", errors.New("subset blew up")))
	assertStage(t, tr, "lxgw", types.StageFailed)

	// Failing twice is rejected
	assertError(t, tr.Fail("iming", errors.New("again")), ErrAlreadyTerminal)
}

func TestOnUpdateCallback(t *testing.T) {
	tr := newTestTracker(t, "iming")

	var got []types.Stage
	tr.SetUpdateCallback(func(st types.FontStatus) {
		got = append(got, st.Stage)
		// 回呼內回頭查詢不可造成死鎖
		tr.Get(st.FontID)
	})

	advanceTo(t, tr, "iming", types.StageCompleted)

	want := []types.Stage{
		types.StageChecked, types.StageDownloading, types.StageDownloaded,
		types.StageValidated, types.StagePlanned, types.StageCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("callback count: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("callback[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	tr := newTestTracker(t, "iming")

	snap := tr.Snapshot()
	snap["iming"].Stage = types.StageFailed
	snap["iming"].Error = "mutated copy"

	assertStage(t, tr, "iming", types.StagePending)
	st, _ := tr.Get("iming")
	if st.Error != "" {
		t.Errorf("snapshot mutation leaked into tracker: %q", st.Error)
	}
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentPipelines(t *testing.T) {
	const numFonts = 50

	tr := New()
	ids := make([]types.FontID, numFonts)
	for i := range ids {
		ids[i] = types.FontID(fmt.Sprintf("font-%03d", i))
	}
	if err := tr.Register(ids...); err != nil {
		t.Fatalf("register: %v", err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id types.FontID) {
			defer wg.Done()
			stages := []types.Stage{
				types.StageChecked, types.StageDownloading, types.StageDownloaded,
				types.StageValidated, types.StagePlanned, types.StageCompleted,
			}
			for _, stage := range stages {
				if err := tr.Advance(id, stage, "v1"); err != nil {
					t.Errorf("advance %s to %s: %v", id, stage, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	if !tr.AllTerminal() {
		t.Error("all fonts should be terminal")
	}
	if got := tr.Stats()[types.StageCompleted]; got != numFonts {
		t.Errorf("completed count: got %d, want %d", got, numFonts)
	}
}
