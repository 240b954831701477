package filestore

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist before the first write")
	}

	if err := store.Set(ctx, "accounts/openai/1", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "accounts/openai/2", "sk-2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete(ctx, "accounts/openai/1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	keys, _ := reopened.Keys(ctx, "accounts/")
	if want := []string{"accounts/openai/2"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}
	value, ok, _ := reopened.Get(ctx, "accounts/openai/2")
	if !ok || value != "sk-2" {
		t.Errorf("Get = %q, %v", value, ok)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestOpen_EmptyAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(empty); err != nil {
		t.Errorf("empty file should open as an empty store: %v", err)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(corrupt); err == nil {
		t.Errorf("corrupt file should fail to open")
	}
}
