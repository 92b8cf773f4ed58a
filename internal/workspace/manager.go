package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

// Manager handles workspace lifecycle and storage.
type Manager struct {
	workspaces sync.Map // map[string]*Workspace

	ttl             time.Duration
	cleanupInterval time.Duration
	maxWorkspaces   int

	mu           sync.RWMutex
	activeCount  int
	totalCreated int64

	done     chan struct{}
	stopOnce sync.Once
}

// ManagerConfig holds workspace manager configuration.
type ManagerConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MaxWorkspaces   int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TTL:             24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
		MaxWorkspaces:   1000,
	}
}

// NewManager creates a new workspace manager.
func NewManager(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.TTL == 0 {
		cfg.TTL = def.TTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxWorkspaces == 0 {
		cfg.MaxWorkspaces = def.MaxWorkspaces
	}

	return &Manager{
		ttl:             cfg.TTL,
		cleanupInterval: cfg.CleanupInterval,
		maxWorkspaces:   cfg.MaxWorkspaces,
		done:            make(chan struct{}),
	}
}

// Start begins the background cleanup goroutine.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()

	log.Info().
		Dur("ttl", m.ttl).
		Int("max_workspaces", m.maxWorkspaces).
		Msg("Workspace manager started")
}

// Stop shuts down the manager and drops every workspace.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})

	m.workspaces.Range(func(key, _ any) bool {
		m.remove(key.(string))
		return true
	})

	log.Info().Msg("Workspace manager stopped")
}

// Create opens a workspace holding doc. A nil doc starts an empty edited
// document.
func (m *Manager) Create(ctx context.Context, doc *policy.RuleDocument, categories []string) (*Workspace, error) {
	m.mu.Lock()

	if m.activeCount >= m.maxWorkspaces {
		m.mu.Unlock()
		log.Warn().Int("max", m.maxWorkspaces).Msg("Max workspaces limit reached")
		return nil, ErrMaxWorkspacesReached
	}

	id := "ws_" + uuid.New().String()
	ws := newWorkspace(id, doc, categories)

	m.workspaces.Store(id, ws)
	m.activeCount++
	m.totalCreated++
	m.mu.Unlock()

	log.Debug().
		Str("workspace_id", id).
		Int("rules", len(ws.doc.Rules)).
		Msg("Workspace created")

	return ws, nil
}

// Get retrieves a workspace by ID.
func (m *Manager) Get(id string) (*Workspace, error) {
	value, ok := m.workspaces.Load(id)
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return value.(*Workspace), nil
}

// Replace validates raw as an edited document and makes it the workspace's
// document. On any validation failure the previous document stays active.
func (m *Manager) Replace(id string, raw []byte) (*policy.RuleDocument, error) {
	ws, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	doc, err := policy.ValidateEdited(raw)
	if err != nil {
		log.Debug().Err(err).Str("workspace_id", id).Msg("Rejected edited document")
		return nil, err
	}

	rev := ws.setDocument(doc)
	log.Debug().
		Str("workspace_id", id).
		Int("revision", rev).
		Int("rules", len(doc.Rules)).
		Msg("Workspace document replaced")

	return doc, nil
}

// SetDocument makes an already validated document the workspace's document.
func (m *Manager) SetDocument(id string, doc *policy.RuleDocument) error {
	ws, err := m.Get(id)
	if err != nil {
		return err
	}
	if doc == nil {
		return &policy.ValidationError{Reason: "document is required"}
	}
	ws.setDocument(doc)
	return nil
}

// Delete removes a workspace.
func (m *Manager) Delete(id string) {
	if m.remove(id) {
		log.Debug().Str("workspace_id", id).Msg("Workspace deleted")
	}
}

func (m *Manager) remove(id string) bool {
	if _, loaded := m.workspaces.LoadAndDelete(id); !loaded {
		return false
	}
	m.mu.Lock()
	m.activeCount--
	m.mu.Unlock()
	return true
}

// ActiveCount returns the number of live workspaces.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCount
}

// TotalCreated returns the total number of workspaces created.
func (m *Manager) TotalCreated() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalCreated
}

// cleanup removes workspaces idle for longer than the TTL.
func (m *Manager) cleanup() {
	var expired int

	m.workspaces.Range(func(key, value any) bool {
		ws := value.(*Workspace)
		if idle := ws.IdleTime(); idle > m.ttl {
			if m.remove(key.(string)) {
				expired++
				log.Debug().
					Str("workspace_id", ws.ID).
					Dur("idle_time", idle).
					Msg("Workspace expired")
			}
		}
		return true
	})

	if expired > 0 {
		log.Info().
			Int("expired", expired).
			Int("active", m.ActiveCount()).
			Msg("Workspace cleanup completed")
	}
}

// List returns snapshots of all live workspaces.
func (m *Manager) List() []Snapshot {
	var out []Snapshot
	m.workspaces.Range(func(_, value any) bool {
		out = append(out, value.(*Workspace).Snapshot())
		return true
	})
	return out
}

// Errors
var (
	ErrMaxWorkspacesReached = &WorkspaceError{Message: "maximum workspaces limit reached"}
	ErrWorkspaceNotFound    = &WorkspaceError{Message: "workspace not found"}
)

// WorkspaceError represents a workspace-related error.
type WorkspaceError struct {
	Message string
}

func (e *WorkspaceError) Error() string {
	return e.Message
}
