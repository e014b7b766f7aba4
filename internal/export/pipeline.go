// Package export turns a pretrained forecaster into a static ONNX graph
// an inference server can load.
//
// The pipeline runs four operations in a fixed order:
//
//	Unloaded → Load → Loaded → Wrap → Wrapped → Trace → Traced → Persist → Persisted
//
// Any failure is final: the pipeline stays in the last stage it reached
// and returns a *StageError. There are no retries.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/born-ml/tsexport/internal/backend/cpu"
	"github.com/born-ml/tsexport/internal/forecast"
	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/onnx"
	"github.com/born-ml/tsexport/internal/source"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/born-ml/tsexport/internal/trace"
)

// Names of the artifact's input and output, as the inference server
// addresses them.
const (
	InputName  = "past_values"
	OutputName = "prediction_outputs"
)

// Options configures a Pipeline.
type Options struct {
	// ModelID is a Hugging Face repository id or a local checkpoint
	// directory.
	ModelID string
	// Revision overrides the revision chosen from the lengths.
	Revision string

	ContextLength    int
	PredictionLength int
	// InputChannels is the channel count of the traced input.
	InputChannels int

	// OutputPath is overwritten on every run.
	OutputPath      string
	TritonConfig    bool
	TritonModelName string
	MaxBatchSize    int

	// Seed drives the synthetic trace input and the check inputs.
	Seed        uint64
	CheckInputs int
	Tolerance   float64

	// Version is recorded as the ONNX producer version.
	Version string

	Resolver *source.Resolver
	Registry *forecast.Registry
	Backend  tensor.Backend
	Logger   *slog.Logger
}

// Result describes a persisted artifact.
type Result struct {
	Path       string
	TritonPath string
	SHA256     string
	Size       int64

	ModelDir string
	Revision string

	Inputs      []graph.ValueInfo
	Outputs     []graph.ValueInfo
	Nodes       int
	Parameters  int
	OpHistogram map[string]int
	Duration    time.Duration
}

// Pipeline exports one model. It is single use and not safe for
// concurrent use.
type Pipeline struct {
	opts     Options
	resolver *source.Resolver
	registry *forecast.Registry
	backend  tensor.Backend
	log      *slog.Logger

	stage    Stage
	revision string
	dir      string
	model    forecast.Forecaster
	fn       trace.Func
	graph    *graph.Graph
}

// New creates a pipeline in the Unloaded stage. Nil collaborators get
// defaults: a resolver without downloads, the built-in families, and the
// CPU backend.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		opts:     opts,
		resolver: opts.Resolver,
		registry: opts.Registry,
		backend:  opts.Backend,
		log:      opts.Logger,
	}
	if p.resolver == nil {
		p.resolver = &source.Resolver{}
	}
	if p.registry == nil {
		p.registry = forecast.NewRegistry()
	}
	if p.backend == nil {
		p.backend = cpu.New()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.opts.InputChannels == 0 {
		p.opts.InputChannels = 1
	}
	if p.opts.Tolerance == 0 {
		p.opts.Tolerance = trace.DefaultOptions().Tolerance
	}
	return p
}

// Stage returns the last stage reached.
func (p *Pipeline) Stage() Stage {
	return p.stage
}

// Forecaster returns the loaded model, or nil before Load.
func (p *Pipeline) Forecaster() forecast.Forecaster {
	return p.model
}

// Graph returns the traced graph, or nil before Trace.
func (p *Pipeline) Graph() *graph.Graph {
	return p.graph
}

// Run executes every remaining operation.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	if err := p.Wrap(); err != nil {
		return nil, err
	}
	if err := p.Trace(); err != nil {
		return nil, err
	}
	res, err := p.Persist()
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)

	p.log.Info("Export complete. Use this model.onnx with your Triton config.",
		"path", res.Path, "sha256", res.SHA256, "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// Load resolves the model identifier and loads the checkpoint in
// evaluation mode.
func (p *Pipeline) Load(ctx context.Context) error {
	if err := p.expect(StageUnloaded); err != nil {
		return err
	}
	p.log.Info("Loading original TTM model...", "id", p.opts.ModelID,
		"context_length", p.opts.ContextLength, "prediction_length", p.opts.PredictionLength)

	p.revision = p.opts.Revision
	if p.revision == "" && !source.IsLocal(p.opts.ModelID) {
		rev, err := source.SelectRevision(p.opts.ContextLength, p.opts.PredictionLength)
		if err != nil {
			return p.fail(StageLoaded, err)
		}
		p.revision = rev
	}

	dir, err := p.resolver.Resolve(ctx, p.opts.ModelID, p.revision)
	if err != nil {
		return p.fail(StageLoaded, err)
	}
	model, err := p.registry.Load(dir, forecast.LoadOptions{
		ContextLength:    p.opts.ContextLength,
		PredictionLength: p.opts.PredictionLength,
	})
	if err != nil {
		return p.fail(StageLoaded, fmt.Errorf("load %s: %w", dir, err))
	}

	p.dir = dir
	p.model = model
	p.stage = StageLoaded
	p.log.Debug("Model loaded", "path", dir, "revision", p.revision,
		"parameters", nn.CountParameters(model))
	return nil
}

// Wrap fixes the model in evaluation mode and checks it against the
// artifact's input/output contract.
func (p *Pipeline) Wrap() error {
	if err := p.expect(StageLoaded); err != nil {
		return err
	}

	m := p.model
	nn.Eval(m)
	switch {
	case m.ContextLength() != p.opts.ContextLength:
		return p.fail(StageWrapped, fmt.Errorf("model reads %d steps, want %d", m.ContextLength(), p.opts.ContextLength))
	case m.PredictionLength() != p.opts.PredictionLength:
		return p.fail(StageWrapped, fmt.Errorf("model forecasts %d steps, want %d", m.PredictionLength(), p.opts.PredictionLength))
	case m.Channels() != p.opts.InputChannels:
		return p.fail(StageWrapped, fmt.Errorf("model has %d channels, want %d", m.Channels(), p.opts.InputChannels))
	}

	p.fn = func(b tensor.Backend, past *tensor.RawTensor) *tensor.RawTensor {
		return m.Forecast(b, past)
	}
	p.stage = StageWrapped
	return nil
}

// Trace records the wrapped model on a synthetic [1, context, channels]
// input and verifies the graph on fresh inputs.
func (p *Pipeline) Trace() error {
	if err := p.expect(StageWrapped); err != nil {
		return err
	}
	p.log.Info("Tracing wrapped model...")

	rng := tensor.NewRand(p.opts.Seed)
	example := tensor.Randn(tensor.Shape{1, p.opts.ContextLength, p.opts.InputChannels}, rng)

	opts := trace.DefaultOptions()
	opts.Name = p.graphName()
	opts.InputName = InputName
	opts.OutputName = OutputName
	opts.Params = p.model.Parameters()
	opts.Check = p.opts.CheckInputs > 0
	opts.CheckInputs = p.opts.CheckInputs
	opts.Tolerance = p.opts.Tolerance
	opts.Rand = rng

	g, err := trace.Trace(p.backend, p.fn, example, opts)
	if err != nil {
		return p.fail(StageTraced, err)
	}

	p.graph = g
	p.stage = StageTraced
	p.log.Debug("Graph recorded", "nodes", len(g.Nodes), "initializers", len(g.Initializers),
		"parameters", g.NumParameters())
	return nil
}

// Persist writes the graph to OutputPath, replacing any previous file, and
// the Triton configuration next to it when enabled.
func (p *Pipeline) Persist() (*Result, error) {
	if err := p.expect(StageTraced); err != nil {
		return nil, err
	}

	out := p.opts.OutputPath
	if out == "" {
		return nil, p.fail(StagePersisted, fmt.Errorf("empty output path"))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return nil, p.fail(StagePersisted, err)
	}

	proto, err := onnx.FromGraph(p.graph, onnx.ExportOptions{
		ProducerVersion: p.opts.Version,
		DocString:       "Forecast of " + p.opts.ModelID,
		Metadata:        p.metadata(),
	})
	if err != nil {
		return nil, p.fail(StagePersisted, err)
	}
	if err := onnx.WriteFile(out, proto); err != nil {
		return nil, p.fail(StagePersisted, err)
	}

	sum, size, err := checksum(out)
	if err != nil {
		return nil, p.fail(StagePersisted, err)
	}

	res := &Result{
		Path:        out,
		SHA256:      sum,
		Size:        size,
		ModelDir:    p.dir,
		Revision:    p.revision,
		Inputs:      p.graph.Inputs,
		Outputs:     p.graph.Outputs,
		Nodes:       len(p.graph.Nodes),
		Parameters:  p.graph.NumParameters(),
		OpHistogram: p.graph.OpHistogram(),
	}

	if p.opts.TritonConfig {
		res.TritonPath = filepath.Join(filepath.Dir(out), TritonConfigFile)
		name := p.opts.TritonModelName
		if name == "" {
			name = p.graphName()
		}
		if err := writeTritonConfig(res.TritonPath, name, p.opts.MaxBatchSize, p.graph); err != nil {
			return nil, p.fail(StagePersisted, err)
		}
	}

	p.stage = StagePersisted
	return res, nil
}

func (p *Pipeline) expect(stage Stage) error {
	if p.stage != stage {
		return fmt.Errorf("%w: pipeline is %v, need %v", ErrStage, p.stage, stage)
	}
	return nil
}

// fail leaves the stage unchanged; target is the stage that was not reached.
func (p *Pipeline) fail(target Stage, err error) error {
	return &StageError{Stage: target, Err: err}
}

func (p *Pipeline) graphName() string {
	return path.Base(filepath.ToSlash(filepath.Clean(p.opts.ModelID)))
}

func (p *Pipeline) metadata() map[string]string {
	meta := map[string]string{
		"model_id":          p.opts.ModelID,
		"context_length":    strconv.Itoa(p.opts.ContextLength),
		"prediction_length": strconv.Itoa(p.opts.PredictionLength),
		"channels":          strconv.Itoa(p.opts.InputChannels),
		"trace_seed":        strconv.FormatUint(p.opts.Seed, 10),
	}
	if p.revision != "" {
		meta["revision"] = p.revision
	}
	return meta
}

func checksum(path string) (string, int64, error) {
	//nolint:gosec // G304: path was just written by this process
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
