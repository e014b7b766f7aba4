package cmd

import (
	"fmt"

	"github.com/born-ml/tsexport/backend/cpu"
	"github.com/born-ml/tsexport/internal/tensor"
	"github.com/born-ml/tsexport/onnx"
	"github.com/spf13/cobra"
)

var (
	runBatch  int
	runSeed   uint64
	runValues int
)

var runCmd = &cobra.Command{
	Use:   "run <artifact>",
	Short: "Execute an ONNX artifact on a random input",
	Long: `Run an exported artifact on the CPU with a seeded standard normal input
and print the output shape and its first values. The batch size may differ
from the one the artifact was traced with.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runBatch, "batch", "b", 1, "Batch size of the random input")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed of the random input")
	runCmd.Flags().IntVarP(&runValues, "values", "n", 8, "Number of output values to print")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runBatch <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", runBatch)
	}

	info, err := onnx.GetModelInfo(args[0])
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", args[0], err)
	}
	if len(info.Inputs) != 1 {
		return fmt.Errorf("%s has %d inputs, run supports one", args[0], len(info.Inputs))
	}

	model, err := onnx.Load(args[0], cpu.New())
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}

	shape := info.Inputs[0].StaticShape()
	if len(shape) > 0 && info.Inputs[0].Shape[0].Param != "" {
		shape[0] = runBatch
	}
	x := tensor.Randn(shape, tensor.NewRand(runSeed))
	y, err := model.Forward(x)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "input  %s %v\n", info.Inputs[0].Name, x.Shape())
	fmt.Fprintf(out, "output %s %v\n", info.Outputs[0].Name, y.Shape())

	values := y.Float32()
	n := min(max(runValues, 0), len(values))
	fmt.Fprintf(out, "values %v\n", values[:n])
	return nil
}
