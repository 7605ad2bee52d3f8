package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trezcool/maabara/core"
)

// ErrFeedbackRequired rejects a rejection with no feedback, before any
// network call.
var ErrFeedbackRequired = errors.New("please provide feedback explaining why the submission was rejected")

// Controller is the staff-facing review queue. Decisions update the local
// queue optimistically and are not reconciled against the backend until
// the next full Fetch; a failed decision leaves the queue untouched.
type Controller struct {
	backend         Backend
	tokens          TokenSource
	logger          core.Logger
	defaultFeedback string

	mu           sync.Mutex
	items        []PartSubmission
	current      int // index into items, -1 when none
	totalCount   int
	pendingCount int
}

func NewController(backend Backend, tokens TokenSource, logger core.Logger, defaultFeedback string) *Controller {
	if defaultFeedback == "" {
		defaultFeedback = "Great job!"
	}
	return &Controller{
		backend:         backend,
		tokens:          tokens,
		logger:          logger,
		defaultFeedback: defaultFeedback,
		current:         -1,
	}
}

// Items returns a copy of the local queue.
func (c *Controller) Items() []PartSubmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PartSubmission, len(c.items))
	copy(out, c.items)
	return out
}

// Current returns the submission under review, if any.
func (c *Controller) Current() (PartSubmission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 || c.current >= len(c.items) {
		return PartSubmission{}, false
	}
	return c.items[c.current], true
}

func (c *Controller) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCount
}

func (c *Controller) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCount
}

// Fetch loads the queue from the dedicated endpoint, falling back to the
// full submission collection with identical client-side filtering and
// ordering when that endpoint is unavailable. The head item is refreshed
// individually for a fresh time-limited media URL; a failed refresh falls
// back to the stale record rather than blocking.
func (c *Controller) Fetch(ctx context.Context, filters QueueFilters) error {
	token, err := c.tokens.IDToken()
	if err != nil {
		return err
	}
	filters = filters.normalized()

	queue, err := c.backend.Queue(ctx, token, filters)
	if err != nil {
		// queue endpoint unavailable; same filter/sort logic, client-side
		c.logger.Warn(fmt.Sprintf("queue endpoint unavailable, falling back to all submissions: %v", err))
		all, fErr := c.backend.PartSubmissions(ctx, token, QueueFilters{})
		if fErr != nil {
			return fErr
		}
		items := Filter(all, filters)
		Sort(items, filters)
		queue = Queue{
			Items:        items,
			TotalCount:   len(all),
			PendingCount: CountPending(all),
		}
	}

	// refresh the head of the queue for a fresh media URL
	if len(queue.Items) > 0 {
		if fresh, rErr := c.backend.PartSubmission(ctx, token, queue.Items[0].SubmissionID); rErr == nil {
			queue.Items[0] = fresh
		}
	}

	c.mu.Lock()
	c.items = queue.Items
	c.totalCount = queue.TotalCount
	c.pendingCount = queue.PendingCount
	if len(c.items) > 0 {
		c.current = 0
	} else {
		c.current = -1
	}
	c.mu.Unlock()
	return nil
}

// Approve marks the submission approved, substituting the canned default
// when feedback is blank, then removes it locally and advances the
// current pointer.
func (c *Controller) Approve(ctx context.Context, sub PartSubmission, feedback string) error {
	feedback = core.CleanString(feedback)
	if feedback == "" {
		feedback = c.defaultFeedback
	}
	return c.decide(ctx, sub, StatusApproved, feedback)
}

// Reject marks the submission rejected. Feedback is mandatory and checked
// locally before any network call.
func (c *Controller) Reject(ctx context.Context, sub PartSubmission, feedback string) error {
	feedback = core.CleanString(feedback)
	if feedback == "" {
		return ErrFeedbackRequired
	}
	return c.decide(ctx, sub, StatusRejected, feedback)
}

// Select refreshes a single record for a fresh media URL and makes it
// current; the queue itself is not mutated.
func (c *Controller) Select(ctx context.Context, sub PartSubmission) PartSubmission {
	if token, err := c.tokens.IDToken(); err == nil {
		if fresh, rErr := c.backend.PartSubmission(ctx, token, sub.SubmissionID); rErr == nil {
			sub = fresh
		}
	}

	c.mu.Lock()
	for i, item := range c.items {
		if item.SubmissionID == sub.SubmissionID {
			c.items[i] = sub
			c.current = i
			break
		}
	}
	c.mu.Unlock()
	return sub
}

// decide is fire-and-forget against the backend: on success the item is
// removed locally and the pointer advances (wrapping to the first item
// when the removed one was last); on failure the queue is left untouched.
func (c *Controller) decide(ctx context.Context, sub PartSubmission, status, feedback string) error {
	token, err := c.tokens.IDToken()
	if err != nil {
		return err
	}
	if _, err = c.backend.UpdatePartSubmission(ctx, token, sub.SubmissionID, ReviewUpdate{
		Status:   status,
		Feedback: feedback,
	}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, item := range c.items {
		if item.SubmissionID == sub.SubmissionID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		c.items = append(c.items[:idx], c.items[idx+1:]...)
		switch {
		case len(c.items) == 0:
			c.current = -1
		case idx >= len(c.items):
			c.current = 0 // removed the last item; wrap to the first
		default:
			c.current = idx
		}
	}
	if c.pendingCount > 0 {
		c.pendingCount--
	}
	return nil
}
