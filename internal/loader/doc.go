// Package loader reads and writes model weights stored the way Hugging Face
// model repositories publish them.
//
// A model directory holds a config.json and a model.safetensors file.
// Weights are always materialized as float32; half precision and float64
// checkpoints are widened or narrowed on load.
//
// Example:
//
//	state, arch, err := loader.LoadWeights("models/ttm/512-96")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(arch, len(state))
//
// Checkpoint names are translated by a WeightMapper so modules can use
// short parameter names while saved directories stay loadable by the
// reference implementation.
package loader
