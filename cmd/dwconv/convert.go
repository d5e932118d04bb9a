package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/weights"
)

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a weight file between safetensors and GGUF",
		Args:  cobra.NoArgs,
		RunE:  convertHandler,
	}

	cmd.Flags().StringP("weights", "w", "", "Source weight file (.safetensors or .gguf)")
	cmd.Flags().StringP("output", "o", "", "Destination file; the extension selects the format")
	cmd.Flags().Bool("f16", false, "Store tensors as half precision")
	cmd.MarkFlagRequired("weights")
	cmd.MarkFlagRequired("output")

	return cmd
}

func convertHandler(cmd *cobra.Command, args []string) error {
	src, _ := cmd.Flags().GetString("weights")
	dst, _ := cmd.Flags().GetString("output")
	half, _ := cmd.Flags().GetBool("f16")

	store, err := weights.Open(src)
	if err != nil {
		return err
	}
	defer store.Close()

	kernels, err := weights.All(store)
	if err != nil {
		return err
	}
	if err := weights.Save(dst, kernels, half); err != nil {
		return err
	}

	slog.Info("converted weights", "from", src, "to", dst, "layers", len(kernels), "f16", half)
	return nil
}
