package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensorio"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a layer and save its output",
		Args:  cobra.NoArgs,
		RunE:  runHandler,
	}

	addLayerFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "Output tensor (.npy)")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runHandler(cmd *cobra.Command, args []string) error {
	out, layout, err := forward(cmd)
	if err != nil {
		return err
	}
	if layout == layoutNCHW {
		if out, err = tensor.NHWCToNCHW(out); err != nil {
			return err
		}
	}

	path, _ := cmd.Flags().GetString("output")
	if err := tensorio.SaveNpy(path, out); err != nil {
		return err
	}
	slog.Info("wrote output", "path", path, "shape", tensor.FormatShape(out.Shape))
	return nil
}
