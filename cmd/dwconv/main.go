// Command dwconv runs and verifies depthwise convolution layers stored in
// safetensors or GGUF weight files.
package main

import (
	"context"

	"github.com/spf13/cobra"
)

func main() {
	cobra.CheckErr(NewCLI().ExecuteContext(context.Background()))
}
