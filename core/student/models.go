package student

import "time"

type (
	// Student is a roster entry with an optional progress rollup.
	Student struct {
		Name            string           `json:"name"`
		Section         string           `json:"section,omitempty"`
		HasAccount      bool             `json:"hasAccount"`
		ProgressSummary *ProgressSummary `json:"progressSummary,omitempty"`
	}

	ProgressSummary struct {
		CompletedLabs   int          `json:"completedLabs"`
		TotalLabs       int          `json:"totalLabs"`
		OverallProgress float64      `json:"overallProgress"`
		LabSummary      []LabSummary `json:"labSummary,omitempty"`
	}

	LabSummary struct {
		LabID     string   `json:"labId"`
		Title     string   `json:"title"`
		Status    string   `json:"status"`
		Completed bool     `json:"completed"`
		Grade     *float64 `json:"grade"`
	}

	// Detail is the per-student progress breakdown shown to staff.
	Detail struct {
		Student
		Progress []LabProgress `json:"progress"`
	}

	LabProgress struct {
		LabID     string         `json:"labId"`
		Title     string         `json:"title"`
		Status    string         `json:"status"` // locked|unlocked
		Completed bool           `json:"completed"`
		Grade     *float64       `json:"grade"`
		Parts     []PartProgress `json:"parts,omitempty"`
	}

	PartProgress struct {
		PartID           string    `json:"partId"`
		Title            string    `json:"title,omitempty"`
		Description      string    `json:"description,omitempty"`
		Completed        bool      `json:"completed"`
		CompletedAt      time.Time `json:"completedAt,omitempty"`
		CheckoffType     string    `json:"checkoffType"` // in-lab|video|pending
		VideoURL         string    `json:"videoUrl,omitempty"`
		SubmissionID     string    `json:"submissionId,omitempty"`
		SubmissionStatus string    `json:"submissionStatus,omitempty"`
	}

	// CheckoffUpdate is a staff-side progress mutation (manual checkoff,
	// grade entry, lock state change).
	CheckoffUpdate struct {
		LabID        string   `json:"labId"`
		PartID       string   `json:"partId,omitempty"`
		Status       string   `json:"status,omitempty"` // locked|unlocked
		Completed    *bool    `json:"completed,omitempty"`
		Grade        *float64 `json:"grade,omitempty"`
		CheckoffType string   `json:"checkoffType,omitempty"`
		SubmissionID string   `json:"submissionId,omitempty"`
		Feedback     string   `json:"feedback,omitempty"`
	}
)
