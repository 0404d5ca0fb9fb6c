package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, cfg Config) {
	t.Helper()
	prev := loadConfig
	loadConfig = func() Config { return cfg }

	loggersMu.Lock()
	saved := loggers
	loggers = make(map[string]*logrus.Entry)
	loggersMu.Unlock()

	t.Cleanup(func() {
		loadConfig = prev
		loggersMu.Lock()
		loggers = saved
		loggersMu.Unlock()
	})
}

func TestNewLogger(t *testing.T) {
	withConfig(t, Config{})

	logger := NewLogger("test-component")
	require.NotNil(t, logger)
	assert.Equal(t, "test-component", logger.Data["component"])

	assert.Same(t, logger, NewLogger("test-component"), "loggers are cached per component")
}

func TestNewLoggerLevel(t *testing.T) {
	withConfig(t, Config{Level: "warn"})

	logger := NewLogger("level-from-config")
	assert.Equal(t, logrus.WarnLevel, logger.Logger.GetLevel())

	t.Setenv("MULTIWORLD_LOG_LEVEL", "debug")
	logger = NewLogger("level-from-env")
	assert.Equal(t, logrus.DebugLevel, logger.Logger.GetLevel())

	t.Setenv("MULTIWORLD_LOG_LEVEL", "nonsense")
	logger = NewLogger("level-invalid")
	assert.Equal(t, logrus.InfoLevel, logger.Logger.GetLevel())
}

func TestBuildFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")

	logger := Build("daemon", Config{
		File:   FileSinkConfig{Enabled: true, Path: path},
		Format: FormatConfig{StructuredToStderr: "never"},
	})
	logger.WithField("pid", 42).Info("daemon started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO]")
	assert.Contains(t, string(data), "daemon started")
	assert.Contains(t, string(data), "pid=42")
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer

	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&TextFormatter{Config: FormatConfig{}})

	logger.WithField("component", "test").Info("Test message")

	output := buf.String()
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "[test]")
	assert.Contains(t, output, "Test message")
}

func TestTextFormatter(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Time:    fixed,
				Level:   logrus.InfoLevel,
				Message: "server started",
				Data: logrus.Fields{
					"component": "orchestrator",
					"port":      38281,
				},
			},
			want:    []string{"2024-03-01 12:30:00", "[INFO]", "[orchestrator]", "server started", "port=38281"},
			notWant: []string{"component="},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Time:    fixed,
				Level:   logrus.WarnLevel,
				Message: "extraction failed",
				Data: logrus.Fields{
					"component": "session",
				},
			},
			want:    []string{"[WARN]", "extraction failed"},
			notWant: []string{"[session]", "2024-03-01"},
		},
		{
			name:   "caller information",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Logger:  func() *logrus.Logger { l := logrus.New(); l.SetReportCaller(true); return l }(),
				Time:    fixed,
				Level:   logrus.InfoLevel,
				Message: "with caller",
				Data:    logrus.Fields{"component": "bridge"},
				Caller: &runtime.Frame{
					File:     "/path/to/bridge.go",
					Line:     42,
					Function: "github.com/grovetools/multiworld/internal/bridge.(*Bridge).read",
				},
			},
			want: []string{"[bridge.go:42 bridge.(*Bridge).read]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TextFormatter{Config: tt.config}
			out, err := formatter.Format(tt.entry)
			require.NoError(t, err)

			for _, want := range tt.want {
				assert.Contains(t, string(out), want)
			}
			for _, notWant := range tt.notWant {
				assert.NotContains(t, string(out), notWant)
			}
			assert.True(t, strings.HasSuffix(string(out), "\n"))
		})
	}
}

func TestFieldsAreSorted(t *testing.T) {
	formatter := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	out, err := formatter.Format(&logrus.Entry{
		Level:   logrus.InfoLevel,
		Message: "m",
		Data:    logrus.Fields{"b": 2, "a": 1, "c": 3},
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "m a=1 b=2 c=3")
}

func TestPrettyLoggerCheck(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrettyLogger().WithWriter(&buf)

	p.Check(true, "Alice", "")
	p.Check(false, "Bob", "")

	assert.Equal(t, "✅ Alice\n❌ Bob\n", buf.String())
}

func TestTextFormatterSessionAndQuoting(t *testing.T) {
	formatter := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	out, err := formatter.Format(&logrus.Entry{
		Level:   logrus.ErrorLevel,
		Message: "server exited",
		Data: logrus.Fields{
			"component":  "session",
			"session_id": "3f2a9c1e-1111-2222-3333-444455556666",
			"error":      fmt.Errorf("exit status 1"),
			"slot":       "P2",
			"reason":     "",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "[ERROR] [session] [3f2a9c1e] server exited error=\"exit status 1\" reason=\"\" slot=P2\n", string(out))
}
