package submission

import (
	"context"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func pendingSub(id string, submittedAt time.Time) PartSubmission {
	return PartSubmission{
		SubmissionID: id,
		LabID:        "lab1",
		PartID:       "part1",
		Status:       StatusPending,
		SubmittedAt:  submittedAt,
		UpdatedAt:    submittedAt,
	}
}

func newTestController(backend *mockBackend) *Controller {
	return NewController(backend, staticTokens("tok"), nopLogger{}, "")
}

func TestController_Fetch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	t.Run("uses the queue endpoint and refreshes the head item", func(t *testing.T) {
		backend := &mockBackend{
			queueFn: func(filters QueueFilters) (Queue, error) {
				return Queue{
					Items: []PartSubmission{
						pendingSub("s1", base),
						pendingSub("s2", base.Add(time.Minute)),
					},
					TotalCount:   5,
					PendingCount: 2,
				}, nil
			},
			getFn: func(id string) (PartSubmission, error) {
				sub := pendingSub(id, base)
				sub.VideoURL = "http://storage/fresh-" + id
				return sub, nil
			},
		}
		c := newTestController(backend)

		if err := c.Fetch(ctx, QueueFilters{Status: StatusPending}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if backend.listCalls != 0 {
			t.Errorf("listCalls = %d; want 0, the queue endpoint answered", backend.listCalls)
		}
		current, ok := c.Current()
		if !ok || current.SubmissionID != "s1" {
			t.Fatalf("Current() = %+v, %v; want s1", current, ok)
		}
		if current.VideoURL != "http://storage/fresh-s1" {
			t.Errorf("head item not refreshed: %q", current.VideoURL)
		}
		if c.TotalCount() != 5 || c.PendingCount() != 2 {
			t.Errorf("counts = %d/%d; want 5/2", c.TotalCount(), c.PendingCount())
		}
	})

	t.Run("falls back to the full collection with identical ordering", func(t *testing.T) {
		// out of order on purpose: t1, t3, t2
		all := []PartSubmission{
			pendingSub("s1", base),
			pendingSub("s3", base.Add(2*time.Minute)),
			pendingSub("s2", base.Add(time.Minute)),
		}
		all = append(all, PartSubmission{
			SubmissionID: "s4", LabID: "lab1", PartID: "part1",
			Status: StatusApproved, SubmittedAt: base, UpdatedAt: base,
		})
		backend := &mockBackend{
			queueFn: func(QueueFilters) (Queue, error) {
				return Queue{}, pkgerrors.New("backend returned 404: not found")
			},
			listFn: func(QueueFilters) ([]PartSubmission, error) { return all, nil },
			getFn:  func(id string) (PartSubmission, error) { return pendingSub(id, base), nil },
		}
		c := newTestController(backend)

		if err := c.Fetch(ctx, QueueFilters{Status: StatusPending}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		items := c.Items()
		gotIDs := make([]string, len(items))
		for i, item := range items {
			gotIDs[i] = item.SubmissionID
		}
		wantIDs := []string{"s1", "s2", "s3"}
		if len(gotIDs) != len(wantIDs) {
			t.Fatalf("items = %v; want %v", gotIDs, wantIDs)
		}
		for i := range wantIDs {
			if gotIDs[i] != wantIDs[i] {
				t.Fatalf("items = %v; want %v", gotIDs, wantIDs)
			}
		}
		if c.TotalCount() != 4 || c.PendingCount() != 3 {
			t.Errorf("counts = %d/%d; want 4/3", c.TotalCount(), c.PendingCount())
		}
	})

	t.Run("a failed head refresh keeps the stale record", func(t *testing.T) {
		backend := &mockBackend{
			queueFn: func(QueueFilters) (Queue, error) {
				return Queue{Items: []PartSubmission{pendingSub("s1", base)}, TotalCount: 1, PendingCount: 1}, nil
			},
			getFn: func(string) (PartSubmission, error) {
				return PartSubmission{}, pkgerrors.New("backend returned 500")
			},
		}
		c := newTestController(backend)

		if err := c.Fetch(ctx, QueueFilters{}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if current, ok := c.Current(); !ok || current.SubmissionID != "s1" {
			t.Errorf("Current() = %+v, %v; want the stale s1", current, ok)
		}
	})

	t.Run("empty queue has no current item", func(t *testing.T) {
		backend := &mockBackend{}
		c := newTestController(backend)

		if err := c.Fetch(ctx, QueueFilters{}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if _, ok := c.Current(); ok {
			t.Error("Current() = ok on an empty queue")
		}
	})
}

func TestController_Decisions(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	load := func(t *testing.T, backend *mockBackend, items ...PartSubmission) *Controller {
		t.Helper()
		backend.queueFn = func(QueueFilters) (Queue, error) {
			return Queue{Items: items, TotalCount: len(items), PendingCount: len(items)}, nil
		}
		c := newTestController(backend)
		if err := c.Fetch(ctx, QueueFilters{}); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		return c
	}

	t.Run("approve with blank feedback substitutes the default", func(t *testing.T) {
		var gotUpdate ReviewUpdate
		backend := &mockBackend{
			updateFn: func(id string, req ReviewUpdate) (PartSubmission, error) {
				gotUpdate = req
				return PartSubmission{SubmissionID: id, Status: req.Status, Feedback: req.Feedback}, nil
			},
		}
		c := load(t, backend, pendingSub("s1", base), pendingSub("s2", base.Add(time.Minute)))

		if err := c.Approve(ctx, pendingSub("s1", base), "  "); err != nil {
			t.Fatalf("Approve() error = %v", err)
		}
		if gotUpdate.Status != StatusApproved || gotUpdate.Feedback != "Great job!" {
			t.Errorf("update = %+v; want approved with the canned feedback", gotUpdate)
		}
		if len(c.Items()) != 1 {
			t.Errorf("items = %d; want 1 after removal", len(c.Items()))
		}
		if c.PendingCount() != 1 {
			t.Errorf("PendingCount() = %d; want 1", c.PendingCount())
		}
	})

	t.Run("reject without feedback fails locally with zero network calls", func(t *testing.T) {
		backend := &mockBackend{}
		c := load(t, backend, pendingSub("s1", base))

		if err := c.Reject(ctx, pendingSub("s1", base), "   "); err != ErrFeedbackRequired {
			t.Fatalf("Reject() error = %v; want ErrFeedbackRequired", err)
		}
		if backend.updateCalls != 0 {
			t.Errorf("updateCalls = %d; want 0", backend.updateCalls)
		}
		if len(c.Items()) != 1 {
			t.Errorf("items = %d; the queue must be untouched", len(c.Items()))
		}
	})

	t.Run("reject with feedback makes exactly one update and removes the item", func(t *testing.T) {
		backend := &mockBackend{}
		c := load(t, backend, pendingSub("s1", base), pendingSub("s2", base.Add(time.Minute)))

		if err := c.Reject(ctx, pendingSub("s1", base), "wrong pinout, see part 2 of the handout"); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if backend.updateCalls != 1 {
			t.Errorf("updateCalls = %d; want 1", backend.updateCalls)
		}
		if len(c.Items()) != 1 || c.Items()[0].SubmissionID != "s2" {
			t.Errorf("items = %+v; want only s2", c.Items())
		}
		if c.PendingCount() != 1 {
			t.Errorf("PendingCount() = %d; want 1", c.PendingCount())
		}
	})

	t.Run("a failed decision leaves the queue untouched", func(t *testing.T) {
		backend := &mockBackend{
			updateFn: func(string, ReviewUpdate) (PartSubmission, error) {
				return PartSubmission{}, pkgerrors.New("backend returned 500")
			},
		}
		c := load(t, backend, pendingSub("s1", base), pendingSub("s2", base.Add(time.Minute)))

		if err := c.Approve(ctx, pendingSub("s1", base), ""); err == nil {
			t.Fatal("Approve() expected an error")
		}
		if len(c.Items()) != 2 {
			t.Errorf("items = %d; want 2, nothing removed on failure", len(c.Items()))
		}
		if c.PendingCount() != 2 {
			t.Errorf("PendingCount() = %d; want 2", c.PendingCount())
		}
	})

	t.Run("deciding a middle item advances to the next one", func(t *testing.T) {
		backend := &mockBackend{}
		c := load(t, backend,
			pendingSub("s1", base),
			pendingSub("s2", base.Add(time.Minute)),
			pendingSub("s3", base.Add(2*time.Minute)),
		)
		c.Select(ctx, pendingSub("s2", base.Add(time.Minute)))

		if err := c.Approve(ctx, pendingSub("s2", base.Add(time.Minute)), ""); err != nil {
			t.Fatalf("Approve() error = %v", err)
		}
		if current, ok := c.Current(); !ok || current.SubmissionID != "s3" {
			t.Errorf("Current() = %+v, %v; want s3", current, ok)
		}
	})

	t.Run("deciding the last item wraps to the first", func(t *testing.T) {
		backend := &mockBackend{}
		c := load(t, backend,
			pendingSub("s1", base),
			pendingSub("s2", base.Add(time.Minute)),
		)
		c.Select(ctx, pendingSub("s2", base.Add(time.Minute)))

		if err := c.Approve(ctx, pendingSub("s2", base.Add(time.Minute)), ""); err != nil {
			t.Fatalf("Approve() error = %v", err)
		}
		if current, ok := c.Current(); !ok || current.SubmissionID != "s1" {
			t.Errorf("Current() = %+v, %v; want wrap to s1", current, ok)
		}
	})

	t.Run("deciding the only item empties the selection", func(t *testing.T) {
		backend := &mockBackend{}
		c := load(t, backend, pendingSub("s1", base))

		if err := c.Approve(ctx, pendingSub("s1", base), ""); err != nil {
			t.Fatalf("Approve() error = %v", err)
		}
		if _, ok := c.Current(); ok {
			t.Error("Current() = ok; want none left")
		}
		if c.PendingCount() != 0 {
			t.Errorf("PendingCount() = %d; want 0", c.PendingCount())
		}
	})
}

func TestController_Select(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	backend := &mockBackend{
		queueFn: func(QueueFilters) (Queue, error) {
			return Queue{
				Items: []PartSubmission{
					pendingSub("s1", base),
					pendingSub("s2", base.Add(time.Minute)),
				},
				TotalCount: 2, PendingCount: 2,
			}, nil
		},
		getFn: func(id string) (PartSubmission, error) {
			sub := pendingSub(id, base)
			sub.VideoURL = "http://storage/fresh-" + id
			return sub, nil
		},
	}
	c := newTestController(backend)
	if err := c.Fetch(ctx, QueueFilters{}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	got := c.Select(ctx, pendingSub("s2", base.Add(time.Minute)))
	if got.VideoURL != "http://storage/fresh-s2" {
		t.Errorf("Select() did not refresh the record: %q", got.VideoURL)
	}
	if current, ok := c.Current(); !ok || current.SubmissionID != "s2" {
		t.Errorf("Current() = %+v, %v; want s2", current, ok)
	}
	if len(c.Items()) != 2 {
		t.Errorf("items = %d; Select must not mutate the queue", len(c.Items()))
	}
}

func TestSort(t *testing.T) {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	items := []PartSubmission{
		pendingSub("s1", base),
		pendingSub("s3", base.Add(2*time.Minute)),
		pendingSub("s2", base.Add(time.Minute)),
	}

	Sort(items, QueueFilters{SortBy: SortBySubmittedAt, SortDirection: SortAsc})
	for i, want := range []string{"s1", "s2", "s3"} {
		if items[i].SubmissionID != want {
			t.Fatalf("asc sort: items[%d] = %s; want %s", i, items[i].SubmissionID, want)
		}
	}

	Sort(items, QueueFilters{SortBy: SortBySubmittedAt, SortDirection: SortDesc})
	for i, want := range []string{"s3", "s2", "s1"} {
		if items[i].SubmissionID != want {
			t.Fatalf("desc sort: items[%d] = %s; want %s", i, items[i].SubmissionID, want)
		}
	}
}

func TestFilter(t *testing.T) {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	approved := pendingSub("s2", base)
	approved.Status = StatusApproved
	otherLab := pendingSub("s3", base)
	otherLab.LabID = "lab2"
	items := []PartSubmission{pendingSub("s1", base), approved, otherLab}

	tests := []struct {
		name    string
		filters QueueFilters
		wantIDs []string
	}{
		{"empty status matches everything", QueueFilters{}, []string{"s1", "s2", "s3"}},
		{"all matches everything", QueueFilters{Status: "all"}, []string{"s1", "s2", "s3"}},
		{"pending only", QueueFilters{Status: StatusPending}, []string{"s1", "s3"}},
		{"by lab", QueueFilters{LabID: "lab2"}, []string{"s3"}},
		{"by lab and status", QueueFilters{Status: StatusApproved, LabID: "lab1"}, []string{"s2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(items, tt.filters)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Filter() = %d items; want %d", len(got), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if got[i].SubmissionID != want {
					t.Errorf("Filter()[%d] = %s; want %s", i, got[i].SubmissionID, want)
				}
			}
		})
	}
}
