package migrate

import (
	"errors"
	"strings"
	"testing"
)

func appendStep(v int, suffix string) Migration {
	return Migration{Version: v, Description: suffix, Upgrade: func(d []byte) ([]byte, error) {
		return append(d, []byte("-"+suffix)...), nil
	}}
}

// ///////////////////////////////////////////////
// Run
// ///////////////////////////////////////////////

func TestRegistryRun(t *testing.T) {
	tests := []struct {
		name        string
		current     int
		steps       []Migration
		from        int
		wantOut     string
		wantVersion int
	}{
		{
			name:        "applies in version order",
			current:     3,
			steps:       []Migration{appendStep(3, "v3"), appendStep(2, "v2")},
			from:        1,
			wantOut:     "data-v2-v3",
			wantVersion: 3,
		},
		{
			name:        "skips steps at or below the file version",
			current:     3,
			steps:       []Migration{appendStep(2, "v2"), appendStep(3, "v3")},
			from:        2,
			wantOut:     "data-v3",
			wantVersion: 3,
		},
		{
			name:        "current file is untouched",
			current:     2,
			steps:       []Migration{appendStep(2, "v2")},
			from:        2,
			wantOut:     "data",
			wantVersion: 2,
		},
		{
			name:        "no steps",
			current:     1,
			from:        1,
			wantOut:     "data",
			wantVersion: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Registry{Name: "test", CurrentVersion: tt.current}
			for _, m := range tt.steps {
				r.Register(m)
			}
			out, version, err := r.Run([]byte("data"), tt.from)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if string(out) != tt.wantOut || version != tt.wantVersion {
				t.Errorf("Run() = %q, v%d; want %q, v%d", out, version, tt.wantOut, tt.wantVersion)
			}
		})
	}
}

func TestRegistryRunStopsOnError(t *testing.T) {
	r := &Registry{Name: "store", CurrentVersion: 3}
	r.Register(appendStep(2, "v2"))
	r.Register(Migration{Version: 3, Description: "fails", Upgrade: func([]byte) ([]byte, error) {
		return nil, errors.New("boom")
	}})

	_, version, err := r.Run([]byte("data"), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "store: migration to v3 failed: boom") {
		t.Errorf("unexpected error: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2 (last successful step)", version)
	}
}

func TestRegistryRunRejectsNewerFile(t *testing.T) {
	r := &Registry{Name: "store", CurrentVersion: 2}
	_, version, err := r.Run([]byte("data"), 3)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected newer-file error, got %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
}

// ///////////////////////////////////////////////
// Register / NeedsMigration
// ///////////////////////////////////////////////

func TestRegistryRegisterPanics(t *testing.T) {
	tests := []struct {
		name string
		run  func(r *Registry)
	}{
		{"duplicate version", func(r *Registry) {
			r.Register(Migration{Version: 2, Description: "first"})
			r.Register(Migration{Version: 2, Description: "second"})
		}},
		{"beyond current", func(r *Registry) {
			r.Register(Migration{Version: 4, Description: "too new"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			tt.run(&Registry{Name: "test", CurrentVersion: 3})
		})
	}
}

func TestRegistryNeedsMigration(t *testing.T) {
	r := &Registry{Name: "test", CurrentVersion: 2}
	for v, want := range map[int]bool{1: true, 2: false, 3: true} {
		if got := r.NeedsMigration(v); got != want {
			t.Errorf("NeedsMigration(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestRegistryDefaults(t *testing.T) {
	if Config.CurrentVersion != 1 {
		t.Errorf("Config.CurrentVersion = %d, want 1", Config.CurrentVersion)
	}
	if Store.CurrentVersion != 2 {
		t.Errorf("Store.CurrentVersion = %d, want 2", Store.CurrentVersion)
	}
}
