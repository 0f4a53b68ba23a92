package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/YuminosukeSato/xgbwrap/pkg/errors"
)

func TestTestLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    Level
		expected []string
	}{
		{"debug shows all", LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"warn hides lower", LevelWarn, []string{"WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := NewTestLogger(tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			entries, err := logger.GetLogEntries()
			require.NoError(t, err)
			require.Len(t, entries, len(tt.expected))
			for i, want := range tt.expected {
				assert.Equal(t, want, entries[i]["level"])
			}
		})
	}
}

func TestTestLoggerWithAndErrors(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	child := logger.With(ComponentKey, "training", EstimatorIDKey, "abc")

	child.Error("update failed", xerrors.NewNativeCallError("XGBoosterUpdateOneIter", -1, "bad label"), IterationKey, 3)

	assert.True(t, logger.ContainsMessage("update failed"))
	assert.True(t, logger.ContainsField(ComponentKey, "training"))
	assert.True(t, logger.ContainsField(IterationKey, float64(3)))

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0][ErrAttrKey], "bad label")

	logger.Clear()
	assert.False(t, logger.ContainsMessage("update failed"))
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.With("worker", id).Info("tick", IterationKey, j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 200)
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo)

	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), LevelWarn))

	logger.Debug("hidden")
	logger.With(ComponentKey, "xgboost").Info("dataset built", SamplesKey, 10, SparseKey, true, MetricKey, 0.25)
	logger.Error("native failure", xerrors.NewNativeCallError("XGDMatrixCreateFromMat", -1, "oom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "dataset built", first["message"])
	assert.Equal(t, "xgboost", first[ComponentKey])
	assert.Equal(t, float64(10), first[SamplesKey])
	assert.Equal(t, true, first[SparseKey])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Contains(t, second[ErrAttrKey], "oom")
	detail, ok := second[ErrAttrKey+".detail"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "NativeCallError", detail["type"])
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, LevelInfo)

	logger.Debug("hidden")
	logger.Info("training matrix built", SamplesKey, 500)

	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "training matrix built")
	assert.Contains(t, out, "500")
	assert.NotContains(t, out, "hidden")
	assert.False(t, strings.HasPrefix(out, "{"), "console output is not JSON")
}

func TestZerologProvider(t *testing.T) {
	var buf bytes.Buffer
	provider := NewZerologProvider(&buf, LevelWarn)
	provider.GetLoggerWithName("predictor").Info("dropped")
	assert.Empty(t, buf.String())

	provider.SetLevel(LevelInfo)
	provider.GetLoggerWithName("predictor").Info("kept")
	assert.Contains(t, buf.String(), `"xgb.component":"predictor"`)
}

func TestGlobalLoggerAndWarnings(t *testing.T) {
	previous := GetLogger()
	defer SetLogger(previous)

	logger, _ := NewTestLogger(LevelDebug)
	SetLogger(logger)
	SetLogger(nil)
	assert.Same(t, logger, GetLogger())

	xerrors.Warn(xerrors.NewDroppedRowsWarning("missing label", 1, 5))
	assert.True(t, logger.ContainsMessage("1 of 5 rows were dropped"))
}

func TestSetupSlog(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupSlog(&buf, "info")
	require.NoError(t, err)

	logger.Error("checkpoint failed", xerrors.NewValidationError("version", "mismatch", 3))
	out := buf.String()
	assert.Contains(t, out, `"severity":"ERROR"`)
	assert.Contains(t, out, `"message":"checkpoint failed"`)
	assert.Contains(t, out, StacktraceAttrKey)

	_, err = SetupSlog(&buf, "verbose")
	assert.Error(t, err)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(2).String())
}
