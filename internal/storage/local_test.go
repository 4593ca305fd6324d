package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories if not exist", func(t *testing.T) {
		root := t.TempDir()
		tempDir := filepath.Join(root, "tmp")
		outDir := filepath.Join(root, "out")

		storage, err := NewLocalStorage(tempDir, outDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}
		if storage.OutputDir() != outDir {
			t.Errorf("OutputDir() = %v, want %v", storage.OutputDir(), outDir)
		}

		for _, dir := range []string{tempDir, outDir} {
			info, err := os.Stat(dir)
			if err != nil {
				t.Fatalf("directory not created: %v", err)
			}
			if !info.IsDir() {
				t.Error("expected directory, got file")
			}
		}
	})

	t.Run("uses default temp directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("", t.TempDir())
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "speakerscribe")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("keeps the extension", func(t *testing.T) {
		ctx := context.Background()

		path, err := storage.SaveTemp(ctx, "meeting.m4a", bytes.NewReader([]byte("test data")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}

		if !strings.Contains(filepath.Base(path), "meeting_") {
			t.Errorf("path %s should contain 'meeting_'", path)
		}
		if filepath.Ext(path) != ".m4a" {
			t.Errorf("path %s should end with .m4a", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test data" {
			t.Errorf("got %q, want %q", string(content), "test data")
		}
	})

	t.Run("strips directories from the name", func(t *testing.T) {
		path, err := storage.SaveTemp(context.Background(), "../../etc/passwd.wav", bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		if filepath.Dir(path) != storage.TempDir() {
			t.Errorf("file saved outside temp dir: %s", path)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "test.wav", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := storage.SaveTemp(ctx, "cleanup.wav", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveTemp() error = %v", err)
			}
			paths = append(paths, path)
		}

		if err := storage.CleanupTemp(ctx, paths); err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		if err := storage.CleanupTemp(ctx, []string{"/non/existent/file"}); err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_SaveArtifact(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	path, err := storage.SaveArtifact(ctx, "job-1", "transcript.txt", []byte("Alice: hi"))
	if err != nil {
		t.Fatalf("SaveArtifact() error = %v", err)
	}

	want := filepath.Join(storage.OutputDir(), "job-1", "transcript.txt")
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if string(content) != "Alice: hi" {
		t.Errorf("got %q", string(content))
	}

	for _, bad := range [][2]string{{"job-1", "../escape.txt"}, {"..", "x.txt"}, {"", "x.txt"}, {"job-1", ""}} {
		if _, err := storage.SaveArtifact(ctx, bad[0], bad[1], nil); !errors.Is(err, ErrInvalidArtifactName) {
			t.Errorf("SaveArtifact(%q, %q) error = %v, want ErrInvalidArtifactName", bad[0], bad[1], err)
		}
	}
}

func TestLocalStorage_Publish(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.Publish(context.Background(), "key", "text/plain", bytes.NewReader([]byte("data")))
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	got, err := Fingerprint(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	const emptyDigest = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got != emptyDigest {
		t.Errorf("Fingerprint(empty) = %s, want %s", got, emptyDigest)
	}

	path := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(path, []byte("recording"), 0600); err != nil {
		t.Fatal(err)
	}
	fromFile, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile() error = %v", err)
	}
	fromReader, _ := Fingerprint(strings.NewReader("recording"))
	if fromFile != fromReader {
		t.Errorf("file and reader digests differ: %s vs %s", fromFile, fromReader)
	}

	if _, err := FingerprintFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := t.TempDir()

	storage, err := NewLocalStorage(filepath.Join(root, "tmp"), filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}
