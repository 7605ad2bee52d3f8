package lab

import (
	"errors"
	"time"
)

// ErrAccessDenied is returned when a student fetches a locked lab.
var ErrAccessDenied = errors.New("this lab is locked and not yet available")

// Lab statuses, derived from the Locked flag only.
const (
	StatusLocked   = "locked"
	StatusUnlocked = "unlocked"
)

// Checkoff types for lab parts.
const (
	CheckoffInLab = "in-lab"
	CheckoffVideo = "video"
	CheckoffNone  = "none"
)

type (
	// Lab is a class assignment. Locked applies class-wide, is set and
	// cleared only by staff action, and is the single source of truth
	// for access; a student's access check is a side-effect-free read.
	Lab struct {
		LabID             string    `json:"labId"`
		Title             string    `json:"title"`
		Description       string    `json:"description,omitempty"`
		Content           string    `json:"content,omitempty"`
		StructuredContent *Content  `json:"structuredContent,omitempty"`
		Order             int       `json:"order"`
		Locked            bool      `json:"locked"`
		Parts             []Part    `json:"parts,omitempty"`
		CreatedAt         time.Time `json:"createdAt"`
		UpdatedAt         time.Time `json:"updatedAt"`
	}

	// Part is a discrete, independently-checkable subtask within a lab.
	Part struct {
		PartID           string `json:"partId"`
		Title            string `json:"title"`
		Description      string `json:"description,omitempty"`
		Order            int    `json:"order"`
		RequiresCheckoff bool   `json:"requiresCheckoff"`
		CheckoffType     string `json:"checkoffType"` // in-lab|video|none
	}

	// Content is the structured lab document; rendering is out of scope,
	// the model only travels through the editor endpoints.
	Content struct {
		Sections  []Section  `json:"sections"`
		Resources []Resource `json:"resources,omitempty"`
	}

	Section struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"` // introduction|objectives|requirements|instructions|submission|custom
		Title   string         `json:"title"`
		Content string         `json:"content,omitempty"`
		Blocks  []ContentBlock `json:"blocks,omitempty"`
		Order   int            `json:"order"`
	}

	ContentBlock struct {
		Type     string `json:"type"` // text|image|code|video|diagram|note|warning
		Content  string `json:"content"`
		Caption  string `json:"caption,omitempty"`
		Language string `json:"language,omitempty"`
		URL      string `json:"url,omitempty"`
	}

	Resource struct {
		ID          string `json:"id"`
		Type        string `json:"type"` // document|image|video|link
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		URL         string `json:"url"`
	}
)

// Status derives the display status from Locked. Locked is authoritative;
// no second boolean is consulted.
func (l Lab) Status() string {
	if l.Locked {
		return StatusLocked
	}
	return StatusUnlocked
}
