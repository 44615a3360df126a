// Package render records view events so a request handler can return them
// to the page.
package render

import (
	"slices"
	"sync"

	"persona-chat/internal/domain"
)

// Recorder implements the chat and comment views. Safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	messages    []domain.Message
	comments    []domain.RenderedComment
	liked       map[string]bool
	alerts      []string
	busy        []bool
	submitting  []bool
	inputClears int
	cmtClears   int
	redirect    string
	greeting    string
	signedIn    bool
}

func NewRecorder() *Recorder {
	return &Recorder{liked: make(map[string]bool)}
}

func (r *Recorder) RenderMessage(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *Recorder) SetBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = append(r.busy, busy)
}

func (r *Recorder) ClearInput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputClears++
}

func (r *Recorder) Alert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

// RenderComments replaces the rendered list and the liked state of every
// rendered button.
func (r *Recorder) RenderComments(items []domain.RenderedComment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments = slices.Clone(items)
	r.liked = make(map[string]bool, len(items))
	for _, it := range items {
		r.liked[it.ID] = it.Liked
	}
}

func (r *Recorder) SetSubmitting(submitting bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitting = append(r.submitting, submitting)
}

func (r *Recorder) ClearCommentInput() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmtClears++
}

// LikedState reports the liked state of the rendered button for commentID.
func (r *Recorder) LikedState(commentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liked[commentID]
}

// SetLiked records a button state reported by the page.
func (r *Recorder) SetLiked(commentID string, liked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liked[commentID] = liked
}

func (r *Recorder) Redirect(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirect = target
}

// Refresh updates the auth-dependent header state.
func (r *Recorder) Refresh(id *domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == nil {
		r.signedIn = false
		r.greeting = ""
		return
	}
	r.signedIn = true
	r.greeting = "Welcome, " + id.Name()
}

func (r *Recorder) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

func (r *Recorder) Comments() []domain.RenderedComment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.comments)
}

func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.alerts)
}

// BusyTransitions returns every SetBusy call in order.
func (r *Recorder) BusyTransitions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.busy)
}

// SubmittingTransitions returns every SetSubmitting call in order.
func (r *Recorder) SubmittingTransitions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.submitting)
}

// Busy reports whether the chat controls are currently disabled.
func (r *Recorder) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.busy) > 0 && r.busy[len(r.busy)-1]
}

// Submitting reports whether the comment submit control is currently disabled.
func (r *Recorder) Submitting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submitting) > 0 && r.submitting[len(r.submitting)-1]
}

func (r *Recorder) InputClears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputClears
}

func (r *Recorder) CommentInputClears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmtClears
}

func (r *Recorder) RedirectTarget() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirect
}

// Greeting returns the header greeting and whether a user is signed in.
func (r *Recorder) Greeting() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.greeting, r.signedIn
}
