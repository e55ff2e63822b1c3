package domain

// SessionState is the closed lifecycle vocabulary for mentoring sessions.
type SessionState string

const (
	SessionDraft      SessionState = "draft"
	SessionPending    SessionState = "pending"
	SessionConfirmed  SessionState = "confirmed"
	SessionRejected   SessionState = "rejected"
	SessionInProgress SessionState = "in_progress"
	SessionCompleted  SessionState = "completed"
	SessionCancelled  SessionState = "cancelled"
	SessionTerminated SessionState = "terminated"
	SessionAutonomous SessionState = "autonomous"
)

// SessionStateWhitelist lists the states reachable through the explicit
// state-change operation. Terminate and the reschedule reversion are the
// only other paths that touch state.
var SessionStateWhitelist = []SessionState{
	SessionPending,
	SessionConfirmed,
	SessionRejected,
	SessionInProgress,
	SessionCompleted,
	SessionCancelled,
}

func (s SessionState) Valid() bool {
	switch s {
	case SessionDraft, SessionPending, SessionConfirmed, SessionRejected,
		SessionInProgress, SessionCompleted, SessionCancelled,
		SessionTerminated, SessionAutonomous:
		return true
	}
	return false
}

// TrackState is the closed pipeline vocabulary for music tracks, in
// pipeline order.
type TrackState string

const (
	TrackRecording        TrackState = "recording"
	TrackEditing          TrackState = "editing"
	TrackPoolMixing       TrackState = "pool_mixing"
	TrackMixingWIP        TrackState = "mixing_wip"
	TrackPoolFeedback     TrackState = "pool_feedback"
	TrackFeedbackWIP      TrackState = "feedback_wip"
	TrackPoolFinalization TrackState = "pool_finalization"
	TrackFinalizationWIP  TrackState = "finalization_wip"
	TrackDone             TrackState = "done"
)

func (s TrackState) Valid() bool {
	switch s {
	case TrackRecording, TrackEditing, TrackPoolMixing, TrackMixingWIP,
		TrackPoolFeedback, TrackFeedbackWIP, TrackPoolFinalization,
		TrackFinalizationWIP, TrackDone:
		return true
	}
	return false
}

// IsPool reports whether the state is an unowned pool state.
func (s TrackState) IsPool() bool {
	switch s {
	case TrackPoolMixing, TrackPoolFeedback, TrackPoolFinalization:
		return true
	}
	return false
}

// Claimed maps a pool state to its work-in-progress counterpart. The
// second return is false for non-pool states.
func (s TrackState) Claimed() (TrackState, bool) {
	switch s {
	case TrackPoolMixing:
		return TrackMixingWIP, true
	case TrackPoolFeedback:
		return TrackFeedbackWIP, true
	case TrackPoolFinalization:
		return TrackFinalizationWIP, true
	}
	return s, false
}

// Role identifies what an authenticated user is allowed to do. A
// mentor-producer combines the mentor and producer entry points.
type Role string

const (
	RoleMentor         Role = "mentor"
	RoleProducer       Role = "producer"
	RoleMentorProducer Role = "mentor_producer"
	RoleCoordinator    Role = "coordinator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMentor, RoleProducer, RoleMentorProducer, RoleCoordinator:
		return true
	}
	return false
}

// IsProducer reports whether the role enters the pipeline at the mixing
// pool rather than at recording.
func (r Role) IsProducer() bool {
	return r == RoleProducer || r == RoleMentorProducer
}

type Session struct {
	ID              int64        `json:"id"`
	ClassGroupID    *int64       `json:"class_group_id,omitempty"`
	MentorID        *int64       `json:"mentor_id,omitempty"`
	ActivityID      *int64       `json:"activity_id,omitempty"`
	TrackID         *int64       `json:"track_id,omitempty"`
	Kind            string       `json:"kind"`
	StartsAt        string       `json:"starts_at" format:"date-time"`
	DurationMinutes int          `json:"duration_minutes"`
	State           SessionState `json:"state" enum:"draft,pending,confirmed,rejected,in_progress,completed,cancelled,terminated,autonomous"`
	Location        string       `json:"location,omitempty"`
	Theme           string       `json:"theme,omitempty"`
	Objectives      string       `json:"objectives,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	Autonomous      bool         `json:"autonomous"`
	Realized        bool         `json:"realized"`
	Rating          *int         `json:"rating,omitempty"`
	ClosingNote     string       `json:"closing_note,omitempty"`
	CreatedAt       string       `json:"created_at" format:"date-time"`
	UpdatedAt       string       `json:"updated_at" format:"date-time"`
}

// SessionListItem is the joined projection used by listings.
type SessionListItem struct {
	Session
	ClassGroupName  string `json:"class_group_name,omitempty"`
	MentorName      string `json:"mentor_name,omitempty"`
	InstitutionName string `json:"institution_name,omitempty"`
}

type Track struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	ClassGroupID  *int64     `json:"class_group_id,omitempty"`
	Discipline    string     `json:"discipline,omitempty"`
	State         TrackState `json:"state" enum:"recording,editing,pool_mixing,mixing_wip,pool_feedback,feedback_wip,pool_finalization,finalization_wip,done"`
	Archived      bool       `json:"archived"`
	ResponsibleID *string    `json:"responsible_id,omitempty"`
	CreatorID     string     `json:"creator_id"`
	Feedback      string     `json:"feedback,omitempty"`
	DemoLink      string     `json:"demo_link,omitempty"`
	MixedBy       *string    `json:"mixed_by,omitempty"`
	ReviewedBy    *string    `json:"reviewed_by,omitempty"`
	FinalizedBy   *string    `json:"finalized_by,omitempty"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
	UpdatedAt     string     `json:"updated_at" format:"date-time"`
}

type TrackListItem struct {
	Track
	ClassGroupName  string `json:"class_group_name,omitempty"`
	InstitutionName string `json:"institution_name,omitempty"`
}

type Mentor struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type ClassGroup struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	InstitutionID int64  `json:"institution_id"`
}

type Institution struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Acronym string `json:"acronym,omitempty"`
}

type Notification struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActionEntry is one row of the append-only action log.
type ActionEntry struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	EntityKind  string `json:"entity_kind"`
	EntityID    int64  `json:"entity_id"`
	Description string `json:"description"`
	Actor       string `json:"actor,omitempty"`
	Detail      string `json:"detail_json,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
