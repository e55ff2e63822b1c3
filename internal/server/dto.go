package server

// Request payloads

type CreateSessionRequest struct {
	ClassGroupID    *int64 `json:"class_group_id,omitempty"`
	MentorID        *int64 `json:"mentor_id,omitempty"`
	ActivityID      *int64 `json:"activity_id,omitempty"`
	TrackID         *int64 `json:"track_id,omitempty"`
	Kind            string `json:"kind,omitempty"`
	StartsAt        string `json:"starts_at" format:"date-time"`
	DurationMinutes int    `json:"duration_minutes,omitempty" minimum:"1"`
	Location        string `json:"location,omitempty"`
	Theme           string `json:"theme,omitempty"`
	Objectives      string `json:"objectives,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Autonomous      bool   `json:"autonomous,omitempty"`
}

type UpdateSessionRequest struct {
	ClassGroupID    *int64  `json:"class_group_id,omitempty"`
	ActivityID      *int64  `json:"activity_id,omitempty"`
	TrackID         *int64  `json:"track_id,omitempty"`
	Kind            *string `json:"kind,omitempty"`
	StartsAt        *string `json:"starts_at,omitempty" format:"date-time"`
	DurationMinutes *int    `json:"duration_minutes,omitempty" minimum:"1"`
	Location        *string `json:"location,omitempty"`
	Theme           *string `json:"theme,omitempty"`
	Objectives      *string `json:"objectives,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	Realized        *bool   `json:"realized,omitempty"`
}

type AssignMentorRequest struct {
	MentorID int64 `json:"mentor_id"`
}

type ChangeStateRequest struct {
	State  string `json:"state" enum:"draft,pending,confirmed,rejected,in_progress,completed,cancelled,terminated,autonomous"`
	Reason string `json:"reason,omitempty"`
}

type TerminateSessionRequest struct {
	Rating int    `json:"rating" minimum:"1" maximum:"5"`
	Note   string `json:"note,omitempty"`
}

type CreateTrackRequest struct {
	Title        string `json:"title"`
	ClassGroupID *int64 `json:"class_group_id,omitempty"`
	Discipline   string `json:"discipline,omitempty"`
	DemoLink     string `json:"demo_link,omitempty"`
}

type AdvanceTrackRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

type DemoLinkRequest struct {
	DemoLink string `json:"demo_link"`
}
