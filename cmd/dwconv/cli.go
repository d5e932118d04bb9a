package main

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/activations"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/envconfig"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/logutil"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensorio"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/verify"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/weights"
)

var errMismatch = errors.New("output does not match expected values")

const (
	layoutNHWC = "nhwc"
	layoutNCHW = "nchw"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dwconv",
		Short: "Depthwise convolution runner and verifier",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			debug, _ := cmd.Flags().GetBool("debug")
			level := logutil.Level(debug || envconfig.Debug)
			if envconfig.Trace {
				level = logutil.LevelTrace
			}
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), level))
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	envVars := envconfig.AsMap()
	envs := make([]envconfig.EnvVar, 0, len(envVars))
	for _, k := range slices.Sorted(maps.Keys(envVars)) {
		envs = append(envs, envVars[k])
	}
	appendEnvDocs(rootCmd, envs)

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		NewVerifyCmd(),
		NewRunCmd(),
		NewCaseCmd(),
		NewSummaryCmd(),
		NewConvertCmd(),
	)

	return rootCmd
}

// appendEnvDocs lists the environment variables in the usage text.
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// addLayerFlags registers the flags shared by commands that execute one layer.
func addLayerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("weights", "w", "", "Weight file (.safetensors or .gguf)")
	cmd.Flags().StringP("layer", "l", "", "Layer name inside the weight file")
	cmd.Flags().StringP("input", "i", "", "Input tensor (.npy) or picture (.png, .jpg, .bmp, .tiff, .webp)")
	cmd.Flags().String("image-size", "", "Resize pictures to H,W before running")
	cmd.Flags().String("normalize", "none", "Pixel normalization for pictures (none, imagenet, standard)")
	cmd.Flags().String("layout", layoutNHWC, "Layout of input and output tensors (nhwc or nchw)")
	cmd.Flags().Int("threads", 0, "Worker goroutines (default DWCONV_NUM_THREADS)")
	cmd.MarkFlagRequired("weights")
	cmd.MarkFlagRequired("layer")
	cmd.MarkFlagRequired("input")
}

// addToleranceFlags registers the comparison flags of verify and case.
func addToleranceFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("atol", 0, "Absolute tolerance (default DWCONV_ATOL)")
	cmd.Flags().Float64("rtol", 0, "Relative tolerance (default DWCONV_RTOL)")
	cmd.Flags().Bool("warn-only", false, "Log mismatches as a warning instead of failing")
	cmd.Flags().String("report", "", "Write mismatching elements to this CSV file")
}

func deviceFromFlags(cmd *cobra.Command) layer.Device {
	threads := envconfig.NumThreads
	if cmd.Flags().Changed("threads") {
		threads, _ = cmd.Flags().GetInt("threads")
	}
	return layer.NewCPUDevice(threads)
}

func toleranceFromFlags(cmd *cobra.Command) (verify.Tolerance, error) {
	tol := verify.Tolerance{Abs: envconfig.AbsTolerance, Rel: envconfig.RelTolerance}
	if cmd.Flags().Changed("atol") {
		tol.Abs, _ = cmd.Flags().GetFloat64("atol")
	}
	if cmd.Flags().Changed("rtol") {
		tol.Rel, _ = cmd.Flags().GetFloat64("rtol")
	}
	return tol, tol.Validate()
}

func warnOnlyFromFlags(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("warn-only") {
		warn, _ := cmd.Flags().GetBool("warn-only")
		return warn
	}
	return envconfig.WarnOnly
}

func layoutFromFlags(cmd *cobra.Command) (string, error) {
	layout, _ := cmd.Flags().GetString("layout")
	switch l := strings.ToLower(layout); l {
	case layoutNHWC, layoutNCHW:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layout %q, want nhwc or nchw", layout)
	}
}

// loadInput reads an input tensor and converts it to NHWC. Pictures are
// decoded to a (1, H, W, 3) tensor whatever the layout.
func loadInput(cmd *cobra.Command, path, layout string) (*tensor.Tensor, error) {
	if tensorio.IsImage(path) {
		opts := tensorio.DefaultImageOptions()
		if size, _ := cmd.Flags().GetString("image-size"); size != "" {
			hw, err := tensor.ParseShape(size)
			if err != nil {
				return nil, err
			}
			if len(hw) != 2 {
				return nil, fmt.Errorf("image size must be H,W, got %q", size)
			}
			opts.Height, opts.Width = hw[0], hw[1]
		}
		norm, _ := cmd.Flags().GetString("normalize")
		var err error
		if opts.Mean, opts.STD, err = tensorio.Normalization(norm); err != nil {
			return nil, err
		}
		return tensorio.LoadImage(path, opts)
	}

	t, err := tensorio.LoadNpy(path)
	if err != nil {
		return nil, err
	}
	if layout == layoutNCHW {
		return tensor.NCHWToNHWC(t)
	}
	return t, nil
}

// loadLayer opens the weight file and returns the named depthwise layer
// followed by its activation.
func loadLayer(path, name string, dev layer.Device) (*layer.Pipeline, error) {
	store, err := weights.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	k, err := store.Kernel(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dw, err := k.Layer()
	if err != nil {
		return nil, err
	}
	dw.SetDevice(dev)

	act, err := activations.ByName(k.Config.Activation)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", name, err)
	}
	return layer.NewPipeline(dw, activations.NewLayer(name+"/activation", act)), nil
}

// forward runs the layer described by the shared layer flags.
func forward(cmd *cobra.Command) (*tensor.Tensor, string, error) {
	layout, err := layoutFromFlags(cmd)
	if err != nil {
		return nil, "", err
	}
	weightsPath, _ := cmd.Flags().GetString("weights")
	name, _ := cmd.Flags().GetString("layer")
	inputPath, _ := cmd.Flags().GetString("input")

	model, err := loadLayer(weightsPath, name, deviceFromFlags(cmd))
	if err != nil {
		return nil, "", err
	}
	input, err := loadInput(cmd, inputPath, layout)
	if err != nil {
		return nil, "", err
	}

	slog.Debug("running layer", "layer", name, "input", tensor.FormatShape(input.Shape), "params", model.ParamCount())
	if slog.Default().Enabled(cmd.Context(), slog.LevelDebug) {
		if err := model.Summary(cmd.ErrOrStderr(), input.Shape); err != nil {
			return nil, "", err
		}
	}
	out, err := model.Forward(input)
	if err != nil {
		return nil, "", err
	}
	return out, layout, nil
}

// compare reports r, writes the optional CSV report and decides the exit status.
func compare(cmd *cobra.Command, actual, expected *tensor.Tensor, tol verify.Tolerance) error {
	r, err := verify.Allclose(actual, expected, tol)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.Close())

	if path, _ := cmd.Flags().GetString("report"); path != "" {
		mismatches, err := verify.Mismatches(actual, expected, tol, 0)
		if err != nil {
			return err
		}
		if err := verify.SaveCSV(path, mismatches); err != nil {
			return err
		}
	}

	if r.Close() {
		slog.Info("outputs match", "elements", r.Total, "max_abs_diff", r.MaxAbsDiff, "actual_sum", r.ActualSum, "expected_sum", r.ExpectedSum)
		return nil
	}
	if warnOnlyFromFlags(cmd) {
		slog.Warn("outputs differ", "report", r.String(), "actual_sum", r.ActualSum, "expected_sum", r.ExpectedSum)
		return nil
	}
	slog.Error("outputs differ", "report", r.String(), "actual_sum", r.ActualSum, "expected_sum", r.ExpectedSum)
	return fmt.Errorf("%w: %s", errMismatch, r)
}
