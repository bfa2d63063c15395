package metrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "drivetierd",
			Subsystem: "test",
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.config != config {
			t.Error("collector.config does not match input config")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
		if collector.moves == nil {
			t.Error("collector.moves map is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector(nil) returned nil collector")
		}
		if collector.config == nil {
			t.Fatal("default config is nil")
		}
		if collector.config.Port != 8080 {
			t.Errorf("default port = %d, want 8080", collector.config.Port)
		}
		if collector.config.Path != "/metrics" {
			t.Errorf("default path = %q, want %q", collector.config.Path, "/metrics")
		}
		if collector.config.Namespace != "drivetierd" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "drivetierd")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		config := &Config{
			Enabled: false,
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.registry != nil {
			t.Error("disabled collector should not have registry")
		}
	})
}

func TestRecordMove(t *testing.T) {
	t.Parallel()

	t.Run("record successful move", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9091, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordMove("warm", "hot", 100*time.Millisecond, 1024, true)

		metrics := collector.GetMetrics()
		moves, ok := metrics["moves"].(map[string]*MoveMetrics)
		if !ok {
			t.Fatal("moves not found in metrics")
		}

		m, exists := moves["warm->hot"]
		if !exists {
			t.Fatal("warm->hot move not recorded")
		}
		if m.Count != 1 {
			t.Errorf("m.Count = %d, want 1", m.Count)
		}
		if m.TotalSize != 1024 {
			t.Errorf("m.TotalSize = %d, want 1024", m.TotalSize)
		}
		if m.Errors != 0 {
			t.Errorf("m.Errors = %d, want 0", m.Errors)
		}
		if m.AvgSize != 1024.0 {
			t.Errorf("m.AvgSize = %.2f, want 1024.00", m.AvgSize)
		}
	})

	t.Run("record failed move", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9092, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordMove("hot", "warm", 50*time.Millisecond, 512, false)

		moves := collector.GetMetrics()["moves"].(map[string]*MoveMetrics)
		m := moves["hot->warm"]
		if m.Errors != 1 {
			t.Errorf("m.Errors = %d, want 1", m.Errors)
		}
	})

	t.Run("record multiple moves on same path", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9093, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordMove("warm", "hot", 100*time.Millisecond, 1000, true)
		collector.RecordMove("warm", "hot", 200*time.Millisecond, 2000, true)
		collector.RecordMove("warm", "hot", 300*time.Millisecond, 3000, false)

		moves := collector.GetMetrics()["moves"].(map[string]*MoveMetrics)
		m := moves["warm->hot"]
		if m.Count != 3 {
			t.Errorf("m.Count = %d, want 3", m.Count)
		}
		if m.TotalSize != 6000 {
			t.Errorf("m.TotalSize = %d, want 6000", m.TotalSize)
		}
		if m.Errors != 1 {
			t.Errorf("m.Errors = %d, want 1", m.Errors)
		}
		expectedAvgSize := 6000.0 / 3.0
		if m.AvgSize != expectedAvgSize {
			t.Errorf("m.AvgSize = %.2f, want %.2f", m.AvgSize, expectedAvgSize)
		}
	})

	t.Run("disabled collector ignores moves", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordMove("warm", "hot", 100*time.Millisecond, 1024, true)

		if len(collector.moves) != 0 {
			t.Error("disabled collector should not track moves")
		}
	})
}

func TestRecordRetryAndReconcile(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9094, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	// Should not panic.
	collector.RecordRetry("exhausted")
	collector.RecordReconcile("dangling_key_removed")
	collector.RecordScanPass("promotion", 25*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	t.Run("record error", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9096, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		testErr := errors.New("test error")
		collector.RecordError("scanner", testErr)
	})

	t.Run("disabled collector ignores errors", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		testErr := errors.New("test error")
		collector.RecordError("scanner", testErr)
	})
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9097, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	tests := []struct {
		name         string
		err          error
		expectedType string
	}{
		{"timeout error", errors.New("operation timeout"), "timeout"},
		{"not found error", errors.New("no such file or directory"), "not_found"},
		{"permission error", errors.New("permission denied"), "permission"},
		{"copy error", errors.New("rsync exited with status 23"), "copy"},
		{"other error", errors.New("unknown error"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := collector.classifyError(tt.err)
			if result != tt.expectedType {
				t.Errorf("classifyError() = %q, want %q", result, tt.expectedType)
			}
		})
	}
}

func TestUpdateQueueDepthAndTierUsage(t *testing.T) {
	t.Parallel()

	t.Run("update gauges", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9098, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateQueueDepth("move", 12)
		collector.UpdateQueueDepth("retry", 3)
		collector.UpdateTierUsage("hot", 0.85)
		collector.UpdateInFlightMoves(2)
	})

	t.Run("disabled collector ignores gauges", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateQueueDepth("move", 12)
		collector.UpdateTierUsage("hot", 0.85)
		collector.UpdateInFlightMoves(2)
	})
}

func TestGetMetrics(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9100, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordMove("warm", "hot", 100*time.Millisecond, 1024, true)
	collector.RecordMove("hot", "warm", 50*time.Millisecond, 512, true)

	metrics := collector.GetMetrics()

	if metrics == nil {
		t.Fatal("GetMetrics() returned nil")
	}

	if _, ok := metrics["moves"]; !ok {
		t.Error("metrics missing 'moves' key")
	}
	if _, ok := metrics["last_reset"]; !ok {
		t.Error("metrics missing 'last_reset' key")
	}
	if _, ok := metrics["uptime"]; !ok {
		t.Error("metrics missing 'uptime' key")
	}

	moves, ok := metrics["moves"].(map[string]*MoveMetrics)
	if !ok {
		t.Fatal("moves is not map[string]*MoveMetrics")
	}

	if len(moves) != 2 {
		t.Errorf("len(moves) = %d, want 2", len(moves))
	}
	if _, exists := moves["warm->hot"]; !exists {
		t.Error("warm->hot move not in metrics")
	}
	if _, exists := moves["hot->warm"]; !exists {
		t.Error("hot->warm move not in metrics")
	}
}

func TestResetMetrics(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9101, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordMove("warm", "hot", 100*time.Millisecond, 1024, true)
	collector.RecordMove("hot", "warm", 50*time.Millisecond, 512, true)

	metrics := collector.GetMetrics()
	moves := metrics["moves"].(map[string]*MoveMetrics)
	if len(moves) != 2 {
		t.Errorf("before reset: len(moves) = %d, want 2", len(moves))
	}

	oldResetTime := collector.lastReset

	time.Sleep(10 * time.Millisecond)
	collector.ResetMetrics()

	metrics = collector.GetMetrics()
	moves = metrics["moves"].(map[string]*MoveMetrics)
	if len(moves) != 0 {
		t.Errorf("after reset: len(moves) = %d, want 0", len(moves))
	}

	if !collector.lastReset.After(oldResetTime) {
		t.Error("lastReset should be updated after reset")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9102, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	ctx := context.Background()
	err = collector.Stop(ctx)
	if err != nil {
		t.Errorf("Stop() without Start() error = %v, want nil", err)
	}
}

func TestContainsHelper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		substr string
		want   bool
	}{
		{"substring at start", "hello world", "hello", true},
		{"substring in middle", "hello world", "lo wo", true},
		{"substring at end", "hello world", "world", true},
		{"substring not found", "hello world", "foo", false},
		{"empty substring", "hello", "", true},
		{"exact match", "hello", "hello", true},
		{"substring longer than string", "hi", "hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := contains(tt.s, tt.substr)
			if result != tt.want {
				t.Errorf("contains(%q, %q) = %v, want %v", tt.s, tt.substr, result, tt.want)
			}
		})
	}
}

func TestIndexOfHelper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		substr string
		want   int
	}{
		{"substring at start", "hello world", "hello", 0},
		{"substring in middle", "hello world", "world", 6},
		{"substring not found", "hello world", "foo", -1},
		{"empty substring", "hello", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := indexOf(tt.s, tt.substr)
			if result != tt.want {
				t.Errorf("indexOf(%q, %q) = %d, want %d", tt.s, tt.substr, result, tt.want)
			}
		})
	}
}
