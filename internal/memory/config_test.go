package memory

import (
	"runtime/debug"
	"testing"
)

func restoreMemoryLimit(t *testing.T) {
	t.Helper()
	prev := debug.SetMemoryLimit(-1)
	t.Cleanup(func() { debug.SetMemoryLimit(prev) })
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name      string
		limit     int64
		ratio     float64
		wantLimit int64
		wantRatio float64
		source    string
	}{
		{"no container limit", 0, 0.85, 0, 0, "none"},
		{"default ratio", 1000 * 1024 * 1024, DefaultRatio, 850 * 1024 * 1024, DefaultRatio, "MEMORY_LIMIT"},
		{"custom ratio", 1 << 30, 0.5, 1 << 29, 0.5, "MEMORY_LIMIT"},
		{"ratio out of range", 1000, 1.5, 850, DefaultRatio, "MEMORY_LIMIT"},
		{"zero ratio", 1000, 0, 850, DefaultRatio, "MEMORY_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreMemoryLimit(t)
			t.Setenv("GOMEMLIMIT", "")

			got := Configure(tt.limit, tt.ratio)
			if got.Source != tt.source {
				t.Errorf("Source = %q, want %q", got.Source, tt.source)
			}
			if got.GoMemLimit != tt.wantLimit {
				t.Errorf("GoMemLimit = %d, want %d", got.GoMemLimit, tt.wantLimit)
			}
			if got.Ratio != tt.wantRatio {
				t.Errorf("Ratio = %v, want %v", got.Ratio, tt.wantRatio)
			}
			if tt.wantLimit > 0 {
				if applied := debug.SetMemoryLimit(-1); applied != tt.wantLimit {
					t.Errorf("runtime limit = %d, want %d", applied, tt.wantLimit)
				}
			}
		})
	}
}

func TestConfigureEnvironmentWins(t *testing.T) {
	restoreMemoryLimit(t)
	t.Setenv("GOMEMLIMIT", "512MiB")
	debug.SetMemoryLimit(512 << 20)

	got := Configure(4<<30, 0.5)
	if got.Source != "GOMEMLIMIT" {
		t.Errorf("Source = %q, want GOMEMLIMIT", got.Source)
	}
	if got.GoMemLimit != 512<<20 {
		t.Errorf("GoMemLimit = %d, want %d", got.GoMemLimit, int64(512<<20))
	}
	if got.ContainerLimit != 0 {
		t.Error("container limit should be ignored")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{850 * 1024 * 1024, "850.0 MiB"},
		{2 << 30, "2.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
