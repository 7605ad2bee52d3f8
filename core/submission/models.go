package submission

import (
	"context"
	"sort"
	"time"
)

// Submission review statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Upload statuses.
const (
	UploadIdle      = "idle"
	UploadUploading = "uploading"
	UploadSuccess   = "success"
	UploadError     = "error"
)

// Queue sort keys.
const (
	SortBySubmittedAt = "submittedAt"
	SortByUpdatedAt   = "updatedAt"

	SortAsc  = "asc"
	SortDesc = "desc"
)

type (
	// PartSubmission is one checkoff request for a lab part, either
	// video-backed or a self-checkoff (empty FileKey).
	PartSubmission struct {
		SubmissionID string    `json:"submissionId"`
		LabID        string    `json:"labId"`
		PartID       string    `json:"partId"`
		StudentID    string    `json:"studentId"`
		UserID       string    `json:"userId,omitempty"`
		Username     string    `json:"username,omitempty"`
		FullName     string    `json:"fullName,omitempty"`
		FileKey      string    `json:"fileKey,omitempty"`
		VideoURL     string    `json:"videoUrl,omitempty"`
		Notes        string    `json:"notes"`
		Status       string    `json:"status"`
		Feedback     string    `json:"feedback,omitempty"`
		SubmittedAt  time.Time `json:"submittedAt"`
		UpdatedAt    time.Time `json:"updatedAt"`
		ReviewedBy   string    `json:"reviewedBy,omitempty"`
		ReviewedAt   time.Time `json:"reviewedAt,omitempty"`
		SelfCheckoff bool      `json:"selfCheckoff,omitempty"`
	}

	// NewPartSubmission creates a submission record; FileKey is empty for
	// self-checkoffs.
	NewPartSubmission struct {
		LabID        string `json:"labId"`
		PartID       string `json:"partId"`
		FileKey      string `json:"fileKey,omitempty"`
		Notes        string `json:"notes"`
		SelfCheckoff bool   `json:"selfCheckoff,omitempty"`
	}

	// ReviewUpdate is a staff decision on a submission.
	ReviewUpdate struct {
		Status   string `json:"status"`
		Feedback string `json:"feedback"`
	}

	// PresignRequest asks the backend for a direct upload target.
	PresignRequest struct {
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
		LabID    string `json:"labId"`
		PartID   string `json:"partId"`
	}

	// PresignTarget is a time-limited, pre-authorized upload URL plus the
	// storage key the backend assigned; the key-naming scheme is opaque.
	PresignTarget struct {
		UploadURL string `json:"uploadUrl"`
		FileKey   string `json:"fileKey"`
	}

	// Queue is the staff review queue as served by the backend.
	Queue struct {
		Items        []PartSubmission `json:"items"`
		TotalCount   int              `json:"totalCount"`
		PendingCount int              `json:"pendingCount"`
	}

	// QueueFilters narrows and orders the review queue.
	QueueFilters struct {
		Status        string `query:"status"` // pending|approved|rejected|all
		LabID         string `query:"labId"`
		PartID        string `query:"partId"`
		StudentID     string `query:"studentId"`
		SortBy        string `query:"sortBy"`
		SortDirection string `query:"sortDirection"`
	}

	// UploadProgress is ephemeral state owned by one pipeline invocation.
	UploadProgress struct {
		FileName string `json:"fileName"`
		Progress int    `json:"progress"` // 0-100
		Status   string `json:"status"`
		Err      string `json:"error,omitempty"`
	}

	// Backend is the subset of the course API consumed by this package.
	Backend interface {
		PresignedUpload(ctx context.Context, idToken string, req PresignRequest) (PresignTarget, error)
		CreatePartSubmission(ctx context.Context, idToken string, req NewPartSubmission) (PartSubmission, error)
		UpdatePartSubmission(ctx context.Context, idToken, submissionID string, req ReviewUpdate) (PartSubmission, error)
		PartSubmission(ctx context.Context, idToken, submissionID string) (PartSubmission, error)
		PartSubmissions(ctx context.Context, idToken string, filters QueueFilters) ([]PartSubmission, error)
		Queue(ctx context.Context, idToken string, filters QueueFilters) (Queue, error)
	}

	// TokenSource supplies the bearer token for backend calls; the
	// session manager implements it.
	TokenSource interface {
		IDToken() (string, error)
	}
)

// DisplayName prefers the denormalized full name over the username.
func (s PartSubmission) DisplayName() string {
	if s.FullName != "" {
		return s.FullName
	}
	return s.Username
}

func (f QueueFilters) normalized() QueueFilters {
	if f.SortBy == "" {
		f.SortBy = SortBySubmittedAt
	}
	if f.SortDirection == "" {
		f.SortDirection = SortAsc
	}
	return f
}

// Filter applies the status/lab/part/student filters; "all" and empty
// status both match everything.
func Filter(items []PartSubmission, filters QueueFilters) []PartSubmission {
	out := make([]PartSubmission, 0, len(items))
	for _, item := range items {
		if filters.Status != "" && filters.Status != "all" && item.Status != filters.Status {
			continue
		}
		if filters.LabID != "" && item.LabID != filters.LabID {
			continue
		}
		if filters.PartID != "" && item.PartID != filters.PartID {
			continue
		}
		if filters.StudentID != "" && item.StudentID != filters.StudentID {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Sort orders items by the filter's sort key and direction. The sort is
// stable so the server path and the client fallback agree on ties.
func Sort(items []PartSubmission, filters QueueFilters) {
	filters = filters.normalized()
	key := func(s PartSubmission) time.Time {
		if filters.SortBy == SortByUpdatedAt {
			return s.UpdatedAt
		}
		return s.SubmittedAt
	}
	sort.SliceStable(items, func(i, j int) bool {
		if filters.SortDirection == SortDesc {
			return key(items[i]).After(key(items[j]))
		}
		return key(items[i]).Before(key(items[j]))
	})
}

// CountPending counts submissions awaiting a decision.
func CountPending(items []PartSubmission) int {
	var n int
	for _, item := range items {
		if item.Status == StatusPending {
			n++
		}
	}
	return n
}
