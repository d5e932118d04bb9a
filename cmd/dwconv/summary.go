package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/envconfig"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/weights"
)

func NewSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "summary",
		Aliases: []string{"ls"},
		Short:   "List the layers of a weight file",
		Args:    cobra.NoArgs,
		RunE:    summaryHandler,
	}

	cmd.Flags().StringP("weights", "w", "", "Weight file (.safetensors or .gguf)")
	cmd.Flags().String("input-shape", "", "NHWC input shape used to compute output shapes, e.g. 1,224,224,32")
	cmd.MarkFlagRequired("weights")

	return cmd
}

func summaryHandler(cmd *cobra.Command, args []string) error {
	slog.Debug("environment", "config", envconfig.Values(), "cpu", layer.CPUFeatures())

	var inShape []int
	if s, _ := cmd.Flags().GetString("input-shape"); s != "" {
		var err error
		if inShape, err = tensor.ParseShape(s); err != nil {
			return err
		}
	}

	path, _ := cmd.Flags().GetString("weights")
	store, err := weights.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	kernels, err := weights.All(store)
	if err != nil {
		return err
	}

	var data [][]string
	var total int
	for _, k := range kernels {
		l, err := k.Layer()
		if err != nil {
			return err
		}

		output := "-"
		if inShape != nil {
			shape, err := l.OutputShape(inShape)
			if err != nil {
				output = "error: " + err.Error()
			} else {
				output = tensor.FormatShape(shape)
			}
		}

		cfg := l.Config()
		kh, kw := l.KernelSize()
		total += l.ParamCount()
		data = append(data, []string{
			l.Name(),
			fmt.Sprintf("%dx%d", kh, kw),
			strconv.Itoa(l.InChannels()),
			strconv.Itoa(l.DepthMultiplier()),
			fmt.Sprintf("%d,%d", cfg.StrideH, cfg.StrideW),
			string(cfg.Padding),
			k.Config.Activation,
			tensor.FormatShape(l.Weights().Shape),
			output,
			strconv.Itoa(l.ParamCount()),
		})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"LAYER", "KERNEL", "CHANNELS", "MULTIPLIER", "STRIDES", "PADDING", "ACTIVATION", "WEIGHTS", "OUTPUT", "PARAMS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d layers, %d parameters\n", len(kernels), total)
	return nil
}
