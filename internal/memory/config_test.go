package memory

import (
	"os"
	"runtime/debug"
	"testing"
)

// saveLimit snapshots the process memory limit and returns a restore func.
func saveLimit() func() {
	original := debug.SetMemoryLimit(-1)
	return func() { debug.SetMemoryLimit(original) }
}

func saveEnv(keys ...string) func() {
	saved := make(map[string]string)
	set := make(map[string]bool)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			saved[k] = v
			set[k] = true
		}
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if set[k] {
				os.Setenv(k, saved[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestConfigureFromEnvUnset(t *testing.T) {
	defer saveLimit()()
	defer saveEnv("GOMEMLIMIT", "MEMORY_LIMIT", "MEMORY_RATIO")()

	result := ConfigureFromEnv()

	if result.Configured {
		t.Error("nothing set, should not configure a limit")
	}
	if result.Source != "none" {
		t.Errorf("Source = %q, want \"none\"", result.Source)
	}
}

func TestConfigureFromEnvMemoryLimit(t *testing.T) {
	defer saveLimit()()
	defer saveEnv("GOMEMLIMIT", "MEMORY_LIMIT", "MEMORY_RATIO")()

	os.Setenv("MEMORY_LIMIT", "1073741824") // 1 GiB

	result := ConfigureFromEnv()

	if !result.Configured {
		t.Fatal("MEMORY_LIMIT set, should configure")
	}
	if result.Source != "MEMORY_LIMIT" {
		t.Errorf("Source = %q, want \"MEMORY_LIMIT\"", result.Source)
	}
	if result.ContainerLimit != 1073741824 {
		t.Errorf("ContainerLimit = %d, want 1073741824", result.ContainerLimit)
	}

	limit := float64(1073741824)
	want := int64(limit * DefaultMemoryRatio)
	if result.GoMemLimit != want {
		t.Errorf("GoMemLimit = %d, want %d", result.GoMemLimit, want)
	}
	if got := debug.SetMemoryLimit(-1); got != want {
		t.Errorf("process limit = %d, want %d", got, want)
	}
}

func TestConfigureFromEnvCustomRatio(t *testing.T) {
	defer saveLimit()()
	defer saveEnv("GOMEMLIMIT", "MEMORY_LIMIT", "MEMORY_RATIO")()

	os.Setenv("MEMORY_LIMIT", "1000000000")
	os.Setenv("MEMORY_RATIO", "0.5")

	result := ConfigureFromEnv()

	if result.Ratio != 0.5 {
		t.Errorf("Ratio = %v, want 0.5", result.Ratio)
	}
	if result.GoMemLimit != 500000000 {
		t.Errorf("GoMemLimit = %d, want 500000000", result.GoMemLimit)
	}
}

func TestConfigureFromEnvInvalidRatio(t *testing.T) {
	defer saveLimit()()
	defer saveEnv("GOMEMLIMIT", "MEMORY_LIMIT", "MEMORY_RATIO")()

	tests := []struct {
		name  string
		ratio string
	}{
		{"non-numeric", "lots"},
		{"zero", "0"},
		{"above one", "1.5"},
		{"negative", "-0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("MEMORY_LIMIT", "1073741824")
			os.Setenv("MEMORY_RATIO", tt.ratio)

			result := ConfigureFromEnv()

			if result.Ratio != DefaultMemoryRatio {
				t.Errorf("Ratio = %v, want default %v", result.Ratio, DefaultMemoryRatio)
			}
		})
	}
}

func TestConfigureFromEnvInvalidLimit(t *testing.T) {
	defer saveLimit()()
	defer saveEnv("GOMEMLIMIT", "MEMORY_LIMIT", "MEMORY_RATIO")()

	os.Setenv("MEMORY_LIMIT", "not-a-number")

	result := ConfigureFromEnv()

	if result.Configured {
		t.Error("unparseable MEMORY_LIMIT should not configure")
	}
	if result.Source != "none" {
		t.Errorf("Source = %q, want \"none\"", result.Source)
	}
}

func TestUnitBudget(t *testing.T) {
	defer saveLimit()()

	tests := []struct {
		name  string
		limit int64
		want  int
	}{
		{"4 GiB sustains 8 units", 4 * 1024 * 1024 * 1024, 8},
		{"1 GiB sustains 2 units", 1024 * 1024 * 1024, 2},
		{"tiny limit still allows one unit", 64 * 1024 * 1024, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			debug.SetMemoryLimit(tt.limit)
			if got := UnitBudget(); got != tt.want {
				t.Errorf("UnitBudget() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnitBudgetUnlimited(t *testing.T) {
	defer saveLimit()()

	debug.SetMemoryLimit(int64(^uint64(0) >> 1)) // effectively unlimited

	if got := UnitBudget(); got != unhintedUnits {
		t.Errorf("UnitBudget() without a limit = %d, want %d", got, unhintedUnits)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 * 1024 * 1024, "3.0 MiB"},
		{int64(1.5 * 1024 * 1024 * 1024), "1.5 GiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
