package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "ibm-granite/granite-timeseries-ttm-r2", cfg.Model.ID)
	assert.Equal(t, 512, cfg.Model.ContextLength)
	assert.Equal(t, 96, cfg.Model.PredictionLength)
	assert.Equal(t, "model.onnx", cfg.Export.Output)
	assert.True(t, cfg.Export.TritonConfig)
	assert.Equal(t, uint64(42), cfg.Export.Seed)
	assert.Equal(t, 3, cfg.Export.CheckInputs)
	assert.InDelta(t, 1e-5, cfg.Export.Tolerance, 1e-12)
	assert.True(t, cfg.Storage.Download)
	assert.Equal(t, 30*time.Minute, cfg.Storage.Timeout)
	assert.Equal(t, DefaultModelsPath(), cfg.Storage.ModelsDir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "model: [unterminated"},
		{"missing section", `
model: {id: m, context_length: 512, prediction_length: 96}
export: {output: model.onnx}
storage: {}
`},
		{"unknown key", `
model: {id: m, context_length: 512, prediction_length: 96, revision: main}
export: {output: model.onnx}
storage: {}
logging: {}
`},
		{"zero context", `
model: {id: m, context_length: 0, prediction_length: 96}
export: {output: model.onnx}
storage: {}
logging: {}
`},
		{"bad level", `
model: {id: m, context_length: 512, prediction_length: 96}
export: {output: model.onnx}
storage: {}
logging: {level: verbose}
`},
		{"bad timeout", `
model: {id: m, context_length: 512, prediction_length: 96}
export: {output: model.onnx}
storage: {timeout: soon}
logging: {}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(`
model: {id: local, context_length: 16, prediction_length: 4}
export: {output: out.onnx}
storage: {models_dir: /tmp/models}
logging: {}
`))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Model.ContextLength)
	assert.Equal(t, "/tmp/models", cfg.Storage.ModelsDir)
	assert.False(t, cfg.Export.TritonConfig)
}

func TestValidate(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	cfg.Export.Output = ""
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestDefaultModelsPath(t *testing.T) {
	path := DefaultModelsPath()
	assert.Equal(t, "models", filepath.Base(path))
	assert.Equal(t, "tsexport", filepath.Base(filepath.Dir(path)))
}
