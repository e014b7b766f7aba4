package export

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"github.com/born-ml/tsexport/internal/graph"
)

// TritonConfigFile is the model configuration file Triton reads.
const TritonConfigFile = "config.pbtxt"

var tritonTemplate = template.Must(template.New(TritonConfigFile).Funcs(template.FuncMap{
	"dims": tritonDims,
}).Parse(`name: "{{ .Name }}"
platform: "onnxruntime_onnx"
max_batch_size: {{ .MaxBatchSize }}
input [
{{- range $i, $v := .Inputs }}{{ if $i }},{{ end }}
  {
    name: "{{ $v.Name }}"
    data_type: TYPE_FP32
    dims: [ {{ dims $v $.MaxBatchSize }} ]
  }
{{- end }}
]
output [
{{- range $i, $v := .Outputs }}{{ if $i }},{{ end }}
  {
    name: "{{ $v.Name }}"
    data_type: TYPE_FP32
    dims: [ {{ dims $v $.MaxBatchSize }} ]
  }
{{- end }}
]
`))

type tritonModel struct {
	Name         string
	MaxBatchSize int
	Inputs       []graph.ValueInfo
	Outputs      []graph.ValueInfo
}

// tritonDims renders dynamic dimensions as -1. With Triton batching
// enabled the batch dimension is implicit and left out.
func tritonDims(v graph.ValueInfo, maxBatchSize int) string {
	dims := v.Shape
	if maxBatchSize > 0 && len(dims) > 0 {
		dims = dims[1:]
	}
	parts := make([]string, len(dims))
	for i, d := range dims {
		if d.Param != "" {
			parts[i] = "-1"
		} else {
			parts[i] = strconv.Itoa(d.Value)
		}
	}
	return strings.Join(parts, ", ")
}

// RenderTritonConfig returns the config.pbtxt text for g.
func RenderTritonConfig(name string, maxBatchSize int, g *graph.Graph) (string, error) {
	var sb strings.Builder
	err := tritonTemplate.Execute(&sb, tritonModel{
		Name:         name,
		MaxBatchSize: maxBatchSize,
		Inputs:       g.Inputs,
		Outputs:      g.Outputs,
	})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", TritonConfigFile, err)
	}
	return sb.String(), nil
}

func writeTritonConfig(path, name string, maxBatchSize int, g *graph.Graph) error {
	text, err := RenderTritonConfig(name, maxBatchSize, g)
	if err != nil {
		return err
	}
	//nolint:gosec // G306: read by the inference server
	return os.WriteFile(path, []byte(text), 0o644)
}
