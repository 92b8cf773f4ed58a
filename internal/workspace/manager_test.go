package workspace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/agentfacts/expense-compliance/internal/policy"
)

func sampleDocument() *policy.RuleDocument {
	return &policy.RuleDocument{
		Rules: []policy.Rule{
			{Name: "Travel cap", Condition: "category == 'Travel' and amount > 300"},
		},
		Version: "1.0",
		Source:  policy.SourceParser,
	}
}

// TestNewManager tests manager creation with various configurations.
func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		config  ManagerConfig
		wantTTL time.Duration
		wantMax int
	}{
		{
			name:    "zero config uses defaults",
			config:  ManagerConfig{},
			wantTTL: 24 * time.Hour,
			wantMax: 1000,
		},
		{
			name:    "custom config",
			config:  ManagerConfig{TTL: time.Hour, CleanupInterval: time.Second, MaxWorkspaces: 5},
			wantTTL: time.Hour,
			wantMax: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(tt.config)
			if mgr.ttl != tt.wantTTL {
				t.Errorf("ttl = %v, want %v", mgr.ttl, tt.wantTTL)
			}
			if mgr.maxWorkspaces != tt.wantMax {
				t.Errorf("maxWorkspaces = %d, want %d", mgr.maxWorkspaces, tt.wantMax)
			}
		})
	}
}

// TestCreateAndGet tests creating and retrieving workspaces.
func TestCreateAndGet(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig())

	ws, err := mgr.Create(context.Background(), sampleDocument(), []string{"Travel", "Meals"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(ws.ID, "ws_") {
		t.Errorf("workspace ID format invalid: %s", ws.ID)
	}

	got, err := mgr.Get(ws.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(sampleDocument(), got.Document()); diff != "" {
		t.Errorf("Document() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Travel", "Meals"}, got.Categories()); diff != "" {
		t.Errorf("Categories() mismatch (-want +got):\n%s", diff)
	}

	if _, err := mgr.Get("ws_missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrWorkspaceNotFound", err)
	}

	empty, err := mgr.Create(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Create(nil) error = %v", err)
	}
	doc := empty.Document()
	if doc.Rules == nil || len(doc.Rules) != 0 || doc.Source != policy.SourceEdited {
		t.Errorf("empty workspace document = %+v", doc)
	}
}

// TestDocumentIsolation tests that callers cannot mutate the stored document.
func TestDocumentIsolation(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig())

	src := sampleDocument()
	ws, err := mgr.Create(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	src.Rules[0].Name = "changed by caller"
	doc := ws.Document()
	doc.Rules[0].Condition = "changed by reader"

	if diff := cmp.Diff(sampleDocument(), ws.Document()); diff != "" {
		t.Errorf("stored document changed (-want +got):\n%s", diff)
	}
}

// TestReplace tests that only valid documents replace the active one.
func TestReplace(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig())
	ws, err := mgr.Create(context.Background(), sampleDocument(), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name       string
		raw        string
		wantErr    string
		wantRules  int
		wantSource string
	}{
		{
			name:    "not an object",
			raw:     `[1,2]`,
			wantErr: "document must be a JSON object",
		},
		{
			name:    "rule missing condition",
			raw:     `{"rules":[{"name":"x"}]}`,
			wantErr: `rules[0] is missing "condition"`,
		},
		{
			name:       "valid edit",
			raw:        `{"rules":[{"name":"a","condition":"amount > 1"},{"name":"b","condition":"city == 'Paris'"}]}`,
			wantRules:  2,
			wantSource: policy.SourceEdited,
		},
		{
			name:       "empty rules",
			raw:        `{"rules":[],"source":"parser"}`,
			wantRules:  0,
			wantSource: policy.SourceParser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := ws.Document()
			rev := ws.Revision()

			doc, err := mgr.Replace(ws.ID, []byte(tt.raw))
			if tt.wantErr != "" {
				if !errors.Is(err, policy.ErrInvalidEditedDocument) || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Replace() error = %v, want %q", err, tt.wantErr)
				}
				if diff := cmp.Diff(before, ws.Document()); diff != "" {
					t.Errorf("document changed after rejected edit (-want +got):\n%s", diff)
				}
				if ws.Revision() != rev {
					t.Errorf("Revision() = %d, want %d", ws.Revision(), rev)
				}
				return
			}

			if err != nil {
				t.Fatalf("Replace() error = %v", err)
			}
			if len(doc.Rules) != tt.wantRules || doc.Source != tt.wantSource {
				t.Errorf("Replace() = %+v", doc)
			}
			if ws.Revision() != rev+1 {
				t.Errorf("Revision() = %d, want %d", ws.Revision(), rev+1)
			}
			if diff := cmp.Diff(doc, ws.Document()); diff != "" {
				t.Errorf("active document mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := mgr.Replace("ws_missing", []byte(`{"rules":[]}`)); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Replace(missing) error = %v, want ErrWorkspaceNotFound", err)
	}
}

// TestSetDocument tests swapping in a pre-validated document.
func TestSetDocument(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig())
	ws, err := mgr.Create(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := mgr.SetDocument(ws.ID, sampleDocument()); err != nil {
		t.Fatalf("SetDocument() error = %v", err)
	}
	if diff := cmp.Diff(sampleDocument(), ws.Document()); diff != "" {
		t.Errorf("Document() mismatch (-want +got):\n%s", diff)
	}
	if err := mgr.SetDocument(ws.ID, nil); !errors.Is(err, policy.ErrInvalidEditedDocument) {
		t.Errorf("SetDocument(nil) error = %v", err)
	}
}

// TestDelete tests deleting workspaces.
func TestDelete(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig())
	ws, err := mgr.Create(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mgr.Delete(ws.ID)
	mgr.Delete(ws.ID)

	if _, err := mgr.Get(ws.ID); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", mgr.ActiveCount())
	}
	if mgr.TotalCreated() != 1 {
		t.Errorf("TotalCreated() = %d, want 1", mgr.TotalCreated())
	}
}

// TestIdleExpiration tests cleanup of idle workspaces.
func TestIdleExpiration(t *testing.T) {
	mgr := NewManager(ManagerConfig{TTL: 50 * time.Millisecond})

	stale, err := mgr.Create(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	fresh, err := mgr.Create(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mgr.cleanup()

	if _, err := mgr.Get(stale.ID); err == nil {
		t.Error("idle workspace should have been removed")
	}
	if _, err := mgr.Get(fresh.ID); err != nil {
		t.Errorf("fresh workspace removed: %v", err)
	}
	if mgr.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", mgr.ActiveCount())
	}
}

// TestMaxWorkspacesLimit tests the workspace cap.
func TestMaxWorkspacesLimit(t *testing.T) {
	mgr := NewManager(ManagerConfig{MaxWorkspaces: 2})

	for i := 0; i < 2; i++ {
		if _, err := mgr.Create(context.Background(), nil, nil); err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
	}

	if _, err := mgr.Create(context.Background(), nil, nil); !errors.Is(err, ErrMaxWorkspacesReached) {
		t.Errorf("Create() over limit error = %v, want ErrMaxWorkspacesReached", err)
	}
}

// TestConcurrentReplace tests concurrent edits on one workspace.
func TestConcurrentReplace(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig())
	ws, err := mgr.Create(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Replace(ws.ID, []byte(`{"rules":[{"name":"a","condition":"amount > 1"}]}`)); err != nil {
				t.Errorf("Replace() error = %v", err)
			}
			_ = ws.Snapshot()
		}()
	}
	wg.Wait()

	if ws.Revision() != 20 {
		t.Errorf("Revision() = %d, want 20", ws.Revision())
	}
	if len(mgr.List()) != 1 {
		t.Errorf("List() returned %d workspaces, want 1", len(mgr.List()))
	}
}

// TestManagerStartStop tests the cleanup loop lifecycle.
func TestManagerStartStop(t *testing.T) {
	mgr := NewManager(ManagerConfig{TTL: time.Hour, CleanupInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Start(ctx)
	if _, err := mgr.Create(ctx, nil, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	mgr.Stop()
	mgr.Stop()

	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after Stop = %d, want 0", mgr.ActiveCount())
	}
}
