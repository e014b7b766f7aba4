// Package main provides the tsexport CLI.
package main

import "github.com/born-ml/tsexport/internal/cmd"

func main() {
	cmd.Execute()
}
