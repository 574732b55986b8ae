package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrJobFinalized = errors.New("job already finalized")

type JobState string

const (
	JobStateQueued  JobState = "queued"
	JobStateWorking JobState = "working"
	JobStateDone    JobState = "done"
	JobStateError   JobState = "error"
)

// Terminal reports whether no further transition may leave the state.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateError
}

type Story string

const (
	StoryLittleRedRidingHood Story = "lrrh"
	StoryJackAndBeanstalk    Story = "jack"
)

// ParseStory maps a form value to a supported tale, defaulting to lrrh.
func ParseStory(value string) Story {
	switch Story(value) {
	case StoryJackAndBeanstalk:
		return StoryJackAndBeanstalk
	default:
		return StoryLittleRedRidingHood
	}
}

type Gender string

const (
	GenderBoy  Gender = "boy"
	GenderGirl Gender = "girl"
)

// ParseGender maps a form value to a supported gender, defaulting to boy.
func ParseGender(value string) Gender {
	switch Gender(value) {
	case GenderGirl:
		return GenderGirl
	default:
		return GenderBoy
	}
}

// Job is the registry view of one storybook run. The uploaded photo is not
// part of it; it only travels inside the QueueMessage.
type Job struct {
	ID          string     `json:"id"`
	Story       Story      `json:"story"`
	Gender      Gender     `json:"gender"`
	State       JobState   `json:"state"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	ResultPath  string     `json:"result_path,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// NewQueuedJob builds the initial registry entry for a submission.
func NewQueuedJob(id string, story Story, gender Gender, now time.Time) Job {
	return Job{
		ID:        id,
		Story:     story,
		Gender:    gender,
		State:     JobStateQueued,
		Progress:  0,
		Message:   "Queued...",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobUpdate is a partial merge; nil fields are left untouched.
type JobUpdate struct {
	State       *JobState
	Progress    *int
	Message     *string
	ResultPath  *string
	DownloadURL *string
}

func (u JobUpdate) WithState(state JobState) JobUpdate {
	u.State = &state
	return u
}

func (u JobUpdate) WithProgress(progress int) JobUpdate {
	u.Progress = &progress
	return u
}

func (u JobUpdate) WithMessage(message string) JobUpdate {
	u.Message = &message
	return u
}

func (u JobUpdate) WithResult(path, downloadURL string) JobUpdate {
	u.ResultPath = &path
	u.DownloadURL = &downloadURL
	return u
}

// Apply merges update into the job. Every registry backend goes through it so
// the transition rules are identical regardless of storage.
func (j *Job) Apply(update JobUpdate, now time.Time) error {
	if j.State.Terminal() {
		return ErrJobFinalized
	}

	next := j.State
	if update.State != nil {
		if !allowedTransition(j.State, *update.State) {
			return fmt.Errorf("invalid transition %s -> %s", j.State, *update.State)
		}
		next = *update.State
	}

	progress := j.Progress
	if update.Progress != nil {
		progress = clampProgress(*update.Progress)
		if progress < j.Progress {
			progress = j.Progress
		}
	}
	switch next {
	case JobStateDone:
		progress = 100
	case JobStateError:
		progress = 0
	}

	if update.Message != nil {
		j.Message = *update.Message
	}
	if next == JobStateDone {
		if update.ResultPath != nil {
			j.ResultPath = *update.ResultPath
		}
		if update.DownloadURL != nil {
			j.DownloadURL = *update.DownloadURL
		}
	} else {
		j.ResultPath = ""
		j.DownloadURL = ""
	}

	j.State = next
	j.Progress = progress
	j.UpdatedAt = now
	if next.Terminal() {
		finished := now
		j.FinishedAt = &finished
	}
	return nil
}

func allowedTransition(from, to JobState) bool {
	switch from {
	case JobStateQueued:
		return to == JobStateQueued || to == JobStateWorking || to == JobStateError
	case JobStateWorking:
		return to == JobStateWorking || to == JobStateDone || to == JobStateError
	default:
		return false
	}
}

func clampProgress(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// QueueMessage carries a submission from the API to a worker.
type QueueMessage struct {
	JobID       string
	Story       Story
	Gender      Gender
	Image       []byte
	RequestedAt time.Time
}

// BookRecord is the history row written when a job reaches a terminal state.
type BookRecord struct {
	JobID      string
	Story      Story
	Gender     Gender
	State      JobState
	Message    string
	Title      string
	PageCount  int
	CreatedAt  time.Time
	FinishedAt time.Time
}

type BookListFilter struct {
	State    JobState
	Story    Story
	Page     int
	PageSize int
}
