// Package workspace holds the active rule document of each editing workspace.
package workspace

import (
	"sync"
	"time"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// Workspace is one editing context: a current rule document plus the
// categories of the dataset it is scored against.
type Workspace struct {
	// ID is the unique workspace identifier
	ID string

	CreatedAt time.Time

	mu             sync.RWMutex
	lastActivityAt time.Time
	updatedAt      time.Time
	revision       int
	doc            *policy.RuleDocument
	categories     []string
}

// Snapshot is a point-in-time view of a workspace.
type Snapshot struct {
	ID             string               `json:"id"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	LastActivityAt time.Time            `json:"last_activity_at"`
	Revision       int                  `json:"revision"`
	Categories     []string             `json:"categories"`
	Document       *policy.RuleDocument `json:"document"`
}

// newWorkspace creates a workspace holding a copy of doc.
func newWorkspace(id string, doc *policy.RuleDocument, categories []string) *Workspace {
	now := time.Now()
	if doc == nil {
		doc = &policy.RuleDocument{
			Rules:   []policy.Rule{},
			Version: policy.DefaultVersion,
			Source:  policy.SourceEdited,
		}
	}
	return &Workspace{
		ID:             id,
		CreatedAt:      now,
		lastActivityAt: now,
		updatedAt:      now,
		doc:            doc.Clone(),
		categories:     append([]string{}, categories...),
	}
}

// Document returns a copy of the current document.
func (w *Workspace) Document() *policy.RuleDocument {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivityAt = time.Now()
	return w.doc.Clone()
}

// Categories returns the dataset categories of the workspace.
func (w *Workspace) Categories() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string{}, w.categories...)
}

// SetCategories replaces the dataset categories.
func (w *Workspace) SetCategories(categories []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.categories = append([]string{}, categories...)
	w.lastActivityAt = time.Now()
}

// setDocument swaps in doc and bumps the revision.
func (w *Workspace) setDocument(doc *policy.RuleDocument) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.doc = doc.Clone()
	w.revision++
	w.updatedAt = now
	w.lastActivityAt = now
	return w.revision
}

// Revision returns how many times the document has been replaced.
func (w *Workspace) Revision() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.revision
}

// Snapshot returns a copy of the workspace state.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{
		ID:             w.ID,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.updatedAt,
		LastActivityAt: w.lastActivityAt,
		Revision:       w.revision,
		Categories:     append([]string{}, w.categories...),
		Document:       w.doc.Clone(),
	}
}

// Age returns how long the workspace has existed.
func (w *Workspace) Age() time.Duration {
	return time.Since(w.CreatedAt)
}

// IdleTime returns how long since the workspace was last used.
func (w *Workspace) IdleTime() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return time.Since(w.lastActivityAt)
}
