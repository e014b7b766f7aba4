package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/tsexport/internal/graph"
	"github.com/born-ml/tsexport/onnx"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <artifact>",
	Short: "Describe an exported ONNX artifact",
	Long: `Print the inputs, outputs, operator histogram and metadata of an ONNX
artifact without running it.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	info, err := onnx.GetModelInfo(args[0])
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", args[0], err)
	}
	printInfo(cmd.OutOrStdout(), args[0], info)
	return nil
}

func printInfo(w io.Writer, path string, info *onnx.ModelInfo) {
	fmt.Fprintf(w, "Model: %s (%s)\n", path, info.GraphName)
	fmt.Fprintf(w, "  IR version: %d, opset: %d\n", info.IRVersion, info.OpsetVersion)
	fmt.Fprintf(w, "  Producer: %s %s\n", info.ProducerName, info.ProducerVersion)

	fmt.Fprintln(w, "Inputs:")
	for _, v := range info.Inputs {
		fmt.Fprintf(w, "  %s %s\n", v.Name, formatShape(v.Shape))
	}
	fmt.Fprintln(w, "Outputs:")
	for _, v := range info.Outputs {
		fmt.Fprintf(w, "  %s %s\n", v.Name, formatShape(v.Shape))
	}

	fmt.Fprintf(w, "Nodes: %d, initializers: %d, parameters: %d\n", info.NodeCount, info.WeightCount, info.ParameterCount)
	fmt.Fprintln(w, "Operators:")
	for _, op := range sortedKeys(info.OpHistogram) {
		fmt.Fprintf(w, "  %-12s %d\n", op, info.OpHistogram[op])
	}

	if len(info.Metadata) > 0 {
		fmt.Fprintln(w, "Metadata:")
		for _, k := range sortedKeys(info.Metadata) {
			fmt.Fprintf(w, "  %s: %s\n", k, info.Metadata[k])
		}
	}
}

func formatShape(dims []graph.Dim) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		if d.Param != "" {
			parts[i] = d.Param
		} else {
			parts[i] = strconv.Itoa(d.Value)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
