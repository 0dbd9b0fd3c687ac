package app

import (
	"sync"
	"time"
)

type Step string

const (
	StepIdle         Step = "idle"
	StepStart        Step = "start"
	StepSelectAuthor Step = "select_author"
	StepAuthenticate Step = "authenticate"
	StepCrawlProfile Step = "crawl_profile"
	StepDiffNew      Step = "diff_new"
	StepCrawlDetails Step = "crawl_details"
	StepPersist      Step = "persist"
	StepMarkComplete Step = "mark_complete"
	StepEnd          Step = "end"
	StepFailed       Step = "failed"
)

const maxStatusErrors = 20

// Snapshot is a point-in-time copy of a run's progress.
type Snapshot struct {
	IsRunning   bool       `json:"is_running"`
	CurrentStep Step       `json:"current_step"`
	Author      string     `json:"author,omitempty"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	CurrentItem string     `json:"current_item,omitempty"`
	Errors      []string   `json:"errors"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status tracks the scrape run in progress for the status endpoint.
type Status struct {
	mu sync.RWMutex
	s  Snapshot
}

func NewStatus() *Status {
	return &Status{s: Snapshot{CurrentStep: StepIdle, Errors: []string{}}}
}

func (st *Status) Begin() {
	now := time.Now().UTC()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = Snapshot{
		IsRunning:   true,
		CurrentStep: StepStart,
		Errors:      []string{},
		StartedAt:   &now,
	}
}

func (st *Status) Step(step Step) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.CurrentStep = step
}

func (st *Status) SetAuthor(username string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Author = username
}

// SetTotal starts a new progress count.
func (st *Status) SetTotal(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Total = n
	st.s.Progress = 0
}

func (st *Status) Advance(item string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Progress++
	st.s.CurrentItem = item
}

// Error appends a message, keeping the most recent ones.
func (st *Status) Error(msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Errors = append(st.s.Errors, msg)
	if n := len(st.s.Errors); n > maxStatusErrors {
		st.s.Errors = st.s.Errors[n-maxStatusErrors:]
	}
}

func (st *Status) Finish(err error) {
	now := time.Now().UTC()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.IsRunning = false
	st.s.CompletedAt = &now
	st.s.CurrentItem = ""
	if err != nil {
		st.s.CurrentStep = StepFailed
		st.s.Errors = append(st.s.Errors, err.Error())
		return
	}
	st.s.CurrentStep = StepEnd
}

func (st *Status) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := st.s
	out.Errors = append([]string(nil), st.s.Errors...)
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out
}
