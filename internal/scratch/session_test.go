package scratch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			out = append(out, filepath.Base(path))
		}
		return nil
	})
	return out
}

func TestRun_SweepsOnSuccess(t *testing.T) {
	base := t.TempDir()
	j := NewJanitor(base, "logo.png")

	var root string
	err := j.Run(context.Background(), func(ctx context.Context, s *Session) error {
		root = s.Root()
		if _, err := s.WriteFile("input_image", ".png", []byte("a")); err != nil {
			return err
		}
		if _, err := s.WriteFile("overlay", "png", []byte("b")); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("session dir %s still exists after sweep", root)
	}
}

func TestRun_SweepsOnCancellation(t *testing.T) {
	base := t.TempDir()
	j := NewJanitor(base)
	ctx, cancel := context.WithCancel(context.Background())

	err := j.Run(ctx, func(ctx context.Context, s *Session) error {
		for i := 0; i < 3; i++ {
			if _, err := s.WriteFile("frame", ".png", []byte{byte(i)}); err != nil {
				return err
			}
		}
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if files := listFiles(t, base); len(files) != 0 {
		t.Errorf("files left after cancellation: %v", files)
	}
}

func TestRun_SweepsOnPanic(t *testing.T) {
	base := t.TempDir()
	j := NewJanitor(base)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate")
			}
		}()
		j.Run(context.Background(), func(ctx context.Context, s *Session) error {
			s.WriteFile("partial", ".mp4", []byte("x"))
			panic("engine crashed")
		})
	}()

	if files := listFiles(t, base); len(files) != 0 {
		t.Errorf("files left after panic: %v", files)
	}
}

func TestClose_KeepsWhitelisted(t *testing.T) {
	base := t.TempDir()
	s, err := NewJanitor(base, "logo.png").Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	logo := filepath.Join(s.Root(), "logo.png")
	if err := os.WriteFile(logo, []byte("brand"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.Register(logo)
	s.WriteFile("text_image", ".png", []byte("t"))
	os.WriteFile(filepath.Join(s.Root(), "stray.tmp"), []byte("s"), 0o644)

	s.Close()

	got := listFiles(t, base)
	if len(got) != 1 || got[0] != "logo.png" {
		t.Errorf("files after Close() = %v, want [logo.png]", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s, err := NewJanitor(t.TempDir()).Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.WriteFile("a", ".bin", nil)
	s.Close()
	s.Close()

	late := filepath.Join(t.TempDir(), "late.bin")
	os.WriteFile(late, []byte("x"), 0o644)
	s.Register(late)
	if _, err := os.Stat(late); !os.IsNotExist(err) {
		t.Error("late registration should be removed immediately")
	}
}

func TestNewPath_AfterClose(t *testing.T) {
	base := t.TempDir()
	s, err := NewJanitor(base).Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Close()

	if path, err := s.NewPath("late", ".png"); !errors.Is(err, ErrSessionClosed) || path != "" {
		t.Errorf("NewPath() = %q, %v; want ErrSessionClosed", path, err)
	}
	if path, err := s.WriteFile("late", ".png", []byte("x")); !errors.Is(err, ErrSessionClosed) || path != "" {
		t.Errorf("WriteFile() = %q, %v; want ErrSessionClosed", path, err)
	}
	if got := listFiles(t, base); len(got) != 0 {
		t.Errorf("files after late writes = %v, want none", got)
	}
}

func TestNewPath_UniqueAcrossSessions(t *testing.T) {
	base := t.TempDir()
	j := NewJanitor(base)
	a, _ := j.Open()
	b, _ := j.Open()
	defer a.Close()
	defer b.Close()

	if a.Root() == b.Root() {
		t.Fatal("two sessions share a directory")
	}

	pa, _ := a.NewPath("input_image", ".png")
	pb, _ := b.NewPath("input_image", ".png")
	if filepath.Base(pa) == filepath.Base(pb) {
		t.Errorf("names collide across sessions: %s", filepath.Base(pa))
	}
	if !strings.HasPrefix(filepath.Base(pa), "input_image_") {
		t.Errorf("NewPath() = %s, want input_image_ prefix", pa)
	}
	if got, _ := a.NewPath("we/ird name", "png"); strings.ContainsAny(filepath.Base(got), "/ ") {
		t.Errorf("NewPath() did not sanitize prefix: %s", got)
	}
}

func TestRegister_Concurrent(t *testing.T) {
	s, err := NewJanitor(t.TempDir()).Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NewPath("c", ".png")
		}()
	}
	wg.Wait()

	files := s.Files()
	if len(files) != 50 {
		t.Fatalf("registered %d files, want 50", len(files))
	}
	seen := make(map[string]bool)
	for _, f := range files {
		if seen[f] {
			t.Errorf("duplicate path %s", f)
		}
		seen[f] = true
	}
}
