// Package forecast defines the narrow forecasting contract exported models
// are traced through, and the adapters that fit model families to it.
//
// Model families return structured outputs (forecast, hidden states,
// normalization statistics). An exported graph must have exactly one
// output, so each family gets an adapter that projects the forecast and
// drops everything else.
package forecast

import (
	"github.com/born-ml/tsexport/internal/nn"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/born-ml/tsexport/internal/ttm"
)

// Forecaster maps past values [batch, context, channels] to a forecast
// [batch, horizon, channels].
type Forecaster interface {
	nn.Parameterized

	Forecast(b tensor.Backend, past *tensor.RawTensor) *tensor.RawTensor

	ContextLength() int
	PredictionLength() int
	Channels() int
}

// TTMAdapter exposes a TinyTimeMixer as a Forecaster. It holds no state of
// its own.
type TTMAdapter struct {
	model *ttm.Model
}

// NewTTMAdapter wraps model.
func NewTTMAdapter(model *ttm.Model) *TTMAdapter {
	return &TTMAdapter{model: model}
}

// Forecast returns the prediction_outputs field of the model output.
func (a *TTMAdapter) Forecast(b tensor.Backend, past *tensor.RawTensor) *tensor.RawTensor {
	return a.model.Forward(b, past).PredictionOutputs
}

// Model returns the wrapped model.
func (a *TTMAdapter) Model() *ttm.Model {
	return a.model
}

// ContextLength returns the number of past steps the model reads.
func (a *TTMAdapter) ContextLength() int {
	return a.model.Config().ContextLength
}

// PredictionLength returns the number of forecast steps.
func (a *TTMAdapter) PredictionLength() int {
	return a.model.Config().Horizon()
}

// Channels returns the number of input channels.
func (a *TTMAdapter) Channels() int {
	return a.model.Config().NumInputChannels
}

// Parameters returns the model parameters.
func (a *TTMAdapter) Parameters() []*nn.Parameter {
	return a.model.Parameters()
}

// SetTraining forwards the mode to the model.
func (a *TTMAdapter) SetTraining(training bool) {
	a.model.SetTraining(training)
}
