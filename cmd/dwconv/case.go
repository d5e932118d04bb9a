package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensorio"
)

func NewCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case FILE.cbor",
		Short: "Run a bundled verification case",
		Long: `Run the layer, input and expected output bundled in a CBOR case file.
A tolerance stored in the case takes precedence over the flags.`,
		Args: cobra.ExactArgs(1),
		RunE: caseHandler,
	}

	addToleranceFlags(cmd)
	cmd.Flags().Int("threads", 0, "Worker goroutines (default DWCONV_NUM_THREADS)")

	return cmd
}

func caseHandler(cmd *cobra.Command, args []string) error {
	tol, err := toleranceFromFlags(cmd)
	if err != nil {
		return err
	}

	c, err := tensorio.LoadCase(args[0])
	if err != nil {
		return err
	}
	if c.Tolerance != nil {
		tol = *c.Tolerance
	}
	slog.Debug("running case", "name", c.Name, "strides", c.Strides, "padding", c.Padding, "tolerance", tol)

	out, err := c.Run(deviceFromFlags(cmd))
	if err != nil {
		return err
	}
	expected, err := c.Expected.Tensor()
	if err != nil {
		return err
	}

	return compare(cmd, out, expected, tol)
}
