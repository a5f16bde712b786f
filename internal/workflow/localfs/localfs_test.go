package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/playsafesec/upgradeboard/internal/workflow"
)

func TestGetPutFile(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	if _, _, err := s.GetFile(ctx, "inventory/host.json"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := s.PutFile(ctx, "inventory/host.json", []byte(`{"classes":[]}`), "", "create"); err != nil {
		t.Fatalf("PutFile create failed: %v", err)
	}

	data, ver, err := s.GetFile(ctx, "inventory/host.json")
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if string(data) != `{"classes":[]}` {
		t.Errorf("Unexpected content %q", data)
	}

	if err := s.PutFile(ctx, "inventory/host.json", []byte(`{"classes":[{}]}`), ver, "update"); err != nil {
		t.Fatalf("PutFile update failed: %v", err)
	}

	// the old version is now stale
	err = s.PutFile(ctx, "inventory/host.json", []byte(`{}`), ver, "update")
	if !errors.Is(err, workflow.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	err = s.PutFile(ctx, "inventory/host.json", []byte(`{}`), "", "create")
	if !errors.Is(err, workflow.ErrVersionConflict) {
		t.Errorf("Creating over an existing file should conflict, got %v", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	root := t.TempDir()
	s := New(filepath.Join(root, "repo"))

	for _, p := range []string{"../secret.json", "/etc/passwd", "inventory/../../x"} {
		if _, _, err := s.GetFile(context.Background(), p); err == nil || errors.Is(err, workflow.ErrNotFound) {
			t.Errorf("Expected %q to be rejected, got %v", p, err)
		}
	}

	if err := s.PutFile(context.Background(), "../escape.json", []byte("x"), "", "m"); err == nil {
		t.Error("PutFile outside root should fail")
	}
	if _, err := os.Stat(filepath.Join(root, "escape.json")); !os.IsNotExist(err) {
		t.Error("No file should be written outside root")
	}
}
