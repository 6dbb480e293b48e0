package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func resetLogger() {
	global = nil
	atomicLevel = zap.NewAtomicLevel()
	once = sync.Once{}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"json info", "info", "json", zapcore.InfoLevel, false},
		{"console debug", "debug", "console", zapcore.DebugLevel, false},
		{"json warn", "warn", "json", zapcore.WarnLevel, false},
		{"invalid level", "loud", "json", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetLogger()
			err := Init(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, GetLevel())
		})
	}
}

func TestSetLevel(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("info", "json"))

	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, GetLevel())
	assert.Equal(t, zapcore.DebugLevel, LevelHandler().Level())

	require.Error(t, SetLevel("bogus"))
	assert.Equal(t, zapcore.DebugLevel, GetLevel())
}

func TestL_PanicsWithoutInit(t *testing.T) {
	resetLogger()
	assert.Panics(t, func() { L() })
}

func TestNamedAndHelpers(t *testing.T) {
	resetLogger()
	require.NoError(t, Init("debug", "json"))

	assert.NotNil(t, Named("hub"))
	assert.NotNil(t, With(zap.String("k", "v")))

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	_ = Sync()
}

func TestBuild_Standalone(t *testing.T) {
	resetLogger()

	l, lvl, err := Build("warn", "console")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, zapcore.WarnLevel, lvl.Level())
	assert.Nil(t, global, "Build must not set the global logger")

	_, _, err = Build("nope", "json")
	require.Error(t, err)
}

func TestSync_NilLogger(t *testing.T) {
	resetLogger()
	assert.NoError(t, Sync())
}
