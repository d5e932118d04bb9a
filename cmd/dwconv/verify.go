package main

import (
	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensorio"
)

func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a layer and compare its output with a reference",
		Long: `Run a stored depthwise layer on an input tensor and compare the result
with an expected output. Prints true or false. A mismatch exits non-zero
unless --warn-only or DWCONV_WARN_ONLY is set.`,
		Args: cobra.NoArgs,
		RunE: verifyHandler,
	}

	addLayerFlags(cmd)
	addToleranceFlags(cmd)
	cmd.Flags().StringP("expected", "e", "", "Expected output tensor (.npy)")
	cmd.MarkFlagRequired("expected")

	return cmd
}

func verifyHandler(cmd *cobra.Command, args []string) error {
	tol, err := toleranceFromFlags(cmd)
	if err != nil {
		return err
	}

	out, layout, err := forward(cmd)
	if err != nil {
		return err
	}

	expectedPath, _ := cmd.Flags().GetString("expected")
	expected, err := tensorio.LoadNpy(expectedPath)
	if err != nil {
		return err
	}
	if layout == layoutNCHW {
		if out, err = tensor.NHWCToNCHW(out); err != nil {
			return err
		}
	}

	return compare(cmd, out, expected, tol)
}
