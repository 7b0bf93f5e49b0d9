package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"canonical-go/internal/canonical"
)

func TestNewFileSystemStore(t *testing.T) {
	t.Run("creates root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "record")

		if _, err := NewFileSystemStore(root); err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
		if _, err := os.Stat(root); err != nil {
			t.Errorf("root not created: %v", err)
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemStore(t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
	})
}

func TestFileSystemStore_Put(t *testing.T) {
	ctx := context.Background()

	t.Run("stores content under nested key", func(t *testing.T) {
		s, err := NewFileSystemStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}

		key := "e-prints/2021/05/2105.01224/v1/2105.01224v1.json"
		checksum, err := s.Put(ctx, key, []byte(`{"title":"x"}`))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if checksum == "" {
			t.Error("Put() returned empty checksum")
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != `{"title":"x"}` {
			t.Errorf("Get() = %q", got)
		}
	})

	t.Run("identical re-put is a no-op", func(t *testing.T) {
		s, err := NewFileSystemStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}

		first, err := s.Put(ctx, "k", []byte("same"))
		if err != nil {
			t.Fatalf("first Put() error = %v", err)
		}
		second, err := s.Put(ctx, "k", []byte("same"))
		if err != nil {
			t.Fatalf("second Put() error = %v", err)
		}
		if first != second {
			t.Errorf("checksums differ: %q vs %q", first, second)
		}
	})

	t.Run("different bytes conflict", func(t *testing.T) {
		s, err := NewFileSystemStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}

		if _, err := s.Put(ctx, "k", []byte("one")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		_, err = s.Put(ctx, "k", []byte("two"))
		if !errors.Is(err, canonical.ErrConflict) {
			t.Errorf("Put() error = %v, want ErrConflict", err)
		}

		// Store is unchanged after the conflict.
		got, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "one" {
			t.Errorf("content after conflict = %q, want %q", got, "one")
		}
	})
}

func TestFileSystemStore_Update(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	key := "announcement/2021/05/06/astro.json"
	if err := s.Update(ctx, key, []byte("[1]")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := s.Update(ctx, key, []byte("[1,2]")); err != nil {
		t.Fatalf("second Update() error = %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[1,2]" {
		t.Errorf("Get() = %q, want %q", got, "[1,2]")
	}
}

func TestFileSystemStore_GetMissing(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Get(context.Background(), "no/such/key")
	if !errors.Is(err, canonical.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemStore_Exists(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Put(ctx, "a/b", []byte("x")); err != nil {
		t.Fatal(err)
	}

	ok, err := s.Exists(ctx, "a/b")
	if err != nil || !ok {
		t.Errorf("Exists(a/b) = %v, %v; want true, nil", ok, err)
	}
	ok, err = s.Exists(ctx, "a/c")
	if err != nil || ok {
		t.Errorf("Exists(a/c) = %v, %v; want false, nil", ok, err)
	}
}

func TestFileSystemStore_ListPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	keys := []string{
		"announcement/2021/05/06/astro.json",
		"announcement/2021/05/06/hep.json",
		"announcement/2021/05/07/astro.json",
		"e-prints/2021/05/2105.01224/v1/2105.01224v1.json",
	}
	for _, k := range keys {
		if _, err := s.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{
			name:   "one day",
			prefix: "announcement/2021/05/06/",
			want: []string{
				"announcement/2021/05/06/astro.json",
				"announcement/2021/05/06/hep.json",
			},
		},
		{
			name:   "whole month",
			prefix: "announcement/2021/05/",
			want: []string{
				"announcement/2021/05/06/astro.json",
				"announcement/2021/05/06/hep.json",
				"announcement/2021/05/07/astro.json",
			},
		},
		{
			name:   "no matches",
			prefix: "announcement/2022/",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := s.ListPrefix(ctx, tt.prefix, func(key string) error {
				got = append(got, key)
				return nil
			})
			if err != nil {
				t.Fatalf("ListPrefix() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListPrefix() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("key[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}

	t.Run("restartable", func(t *testing.T) {
		for run := 0; run < 2; run++ {
			count := 0
			err := s.ListPrefix(ctx, "announcement/", func(string) error {
				count++
				return nil
			})
			if err != nil {
				t.Fatalf("run %d: ListPrefix() error = %v", run, err)
			}
			if count != 3 {
				t.Errorf("run %d: count = %d, want 3", run, count)
			}
		}
	})

	t.Run("stops on callback error", func(t *testing.T) {
		sentinel := errors.New("stop")
		count := 0
		err := s.ListPrefix(ctx, "announcement/", func(string) error {
			count++
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("ListPrefix() error = %v, want sentinel", err)
		}
		if count != 1 {
			t.Errorf("callback ran %d times, want 1", count)
		}
	})
}
