package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbose    bool
	}{
		{name: "console", jsonOutput: false},
		{name: "console verbose", jsonOutput: false, verbose: true},
		{name: "json", jsonOutput: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() {
				Logger = zap.NewNop().Sugar()
				JSONOutput = false
			})

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbose))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.Equal(t, tt.verbose, Logger.Desugar().Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestForBeforeInitialize(t *testing.T) {
	// the nop logger installed by init must be safe to use
	log := For("TEST")
	require.NotNil(t, log)
	log.Infow("hello", FieldFrames, 3)
}
