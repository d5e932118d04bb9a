package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/envconfig"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensorio"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/verify"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/weights"
)

// counts is the number of in-bounds taps of a 3x3 window with same padding
// over a 4x4 image.
var counts = []float32{
	4, 6, 6, 4,
	6, 9, 9, 6,
	6, 9, 9, 6,
	4, 6, 6, 4,
}

type fixture struct {
	dir      string
	weights  string
	input    string
	expected string
}

func (f fixture) path(name string) string { return filepath.Join(f.dir, name) }

// newFixture writes a weight file with two layers over 2 channels and a 4x4
// input of ones. Channel 0 has a kernel of ones, channel 1 a kernel of twos.
func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{dir: t.TempDir()}
	f.weights = f.path("model.safetensors")
	f.input = f.path("input.npy")
	f.expected = f.path("expected.npy")

	w := tensor.New(3, 3, 2, 1)
	for i := range w.Data {
		w.Data[i] = float32(1 + i%2)
	}

	same := weights.DefaultLayerConfig()
	same.Padding = "same"
	relu := same
	relu.Activation = "relu"

	require.NoError(t, weights.SaveSafetensors(f.weights, []*weights.Kernel{
		{Name: "dw", Weights: w, Config: same},
		{Name: "dw_relu", Weights: w, Bias: []float32{-5, -5}, Config: relu},
	}, weights.DTypeF32))

	require.NoError(t, tensorio.SaveNpy(f.input, tensor.New(1, 4, 4, 2).Fill(1)))

	expected := tensor.New(1, 4, 4, 2)
	for i, n := range counts {
		expected.Data[2*i] = n
		expected.Data[2*i+1] = 2 * n
	}
	require.NoError(t, tensorio.SaveNpy(f.expected, expected))
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVerify(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = execute(t, "verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected, "--threads", "3")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestVerifyMismatch(t *testing.T) {
	t.Cleanup(envconfig.LoadConfig)
	f := newFixture(t)
	args := []string{"verify", "-w", f.weights, "-l", "dw_relu", "-i", f.input, "-e", f.expected}

	out, err := execute(t, args...)
	assert.ErrorIs(t, err, errMismatch)
	assert.Equal(t, "false\n", out)

	out, err = execute(t, append(args, "--warn-only")...)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)

	t.Setenv("DWCONV_WARN_ONLY", "1")
	envconfig.LoadConfig()
	_, err = execute(t, args...)
	require.NoError(t, err)

	_, err = execute(t, append(args, "--warn-only=false")...)
	assert.ErrorIs(t, err, errMismatch)
}

func TestVerifyTolerance(t *testing.T) {
	f := newFixture(t)

	expected, err := tensorio.LoadNpy(f.expected)
	require.NoError(t, err)
	expected.Data[0] += 0.01
	require.NoError(t, tensorio.SaveNpy(f.expected, expected))

	args := []string{"verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected}
	_, err = execute(t, args...)
	assert.ErrorIs(t, err, errMismatch)

	_, err = execute(t, append(args, "--atol", "0.02")...)
	require.NoError(t, err)

	_, err = execute(t, append(args, "--atol", "-1")...)
	assert.ErrorIs(t, err, verify.ErrInvalidTolerance)
}

func TestVerifyReport(t *testing.T) {
	f := newFixture(t)
	report := f.path("report.csv")

	_, err := execute(t, "verify", "-w", f.weights, "-l", "dw_relu", "-i", f.input, "-e", f.expected, "--report", report, "--warn-only")
	require.NoError(t, err)

	file, err := os.Open(report)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	// Every element differs: relu(count-5) against count.
	require.Len(t, records, 1+len(counts)*2)
	assert.Equal(t, []string{"index", "coord", "actual", "expected", "abs_diff"}, records[0])
	assert.Equal(t, []string{"0", "0 0 0 0", "0", "4", "4"}, records[1])
}

func TestVerifyNCHW(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, tensorio.SaveNpy(f.input, tensor.New(1, 2, 4, 4).Fill(1)))
	expected := tensor.New(1, 2, 4, 4)
	for i, n := range counts {
		expected.Data[i] = n
		expected.Data[16+i] = 2 * n
	}
	require.NoError(t, tensorio.SaveNpy(f.expected, expected))

	out, err := execute(t, "verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected, "--layout", "NCHW")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = execute(t, "verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected, "--layout", "chwn")
	assert.ErrorContains(t, err, "unknown layout")
}

func TestVerifyErrors(t *testing.T) {
	f := newFixture(t)

	_, err := execute(t, "verify", "-w", f.weights, "-l", "pw", "-i", f.input, "-e", f.expected)
	assert.ErrorIs(t, err, weights.ErrLayerNotFound)

	require.NoError(t, tensorio.SaveNpy(f.input, tensor.New(1, 4, 4, 3)))
	_, err = execute(t, "verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected)
	assert.ErrorIs(t, err, layer.ErrShapeMismatch)

	_, err = execute(t, "verify", "-w", f.weights, "-l", "dw", "-i", f.input)
	assert.ErrorContains(t, err, "expected")
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	output := f.path("out.npy")

	_, err := execute(t, "run", "-w", f.weights, "-l", "dw_relu", "-i", f.input, "-o", output)
	require.NoError(t, err)

	got, err := tensorio.LoadNpy(output)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4, 4, 2}, got.Shape)
	for i, n := range counts {
		assert.Equal(t, max(n-5, 0), got.Data[2*i], "channel 0 at %d", i)
		assert.Equal(t, max(2*n-5, 0), got.Data[2*i+1], "channel 1 at %d", i)
	}
}

func TestCase(t *testing.T) {
	f := newFixture(t)
	input, err := tensorio.LoadNpy(f.input)
	require.NoError(t, err)
	expected, err := tensorio.LoadNpy(f.expected)
	require.NoError(t, err)

	w := tensor.New(3, 3, 2, 1)
	for i := range w.Data {
		w.Data[i] = float32(1 + i%2)
	}
	c := tensorio.NewCase("ones", input, w, nil, expected, layer.Config{StrideH: 1, StrideW: 1, Padding: layer.PaddingSame})
	path := f.path("ones.cbor")
	require.NoError(t, tensorio.SaveCase(path, c))

	out, err := execute(t, "case", path)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	c.Padding = "valid"
	require.NoError(t, tensorio.SaveCase(path, c))
	_, err = execute(t, "case", path)
	assert.ErrorIs(t, err, tensor.ErrShape)

	_, err = execute(t, "case")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)

	out, err := execute(t, "summary", "-w", f.weights, "--input-shape", "1,4,4,2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "LAYER"))
	assert.Contains(t, lines[1], "dw ")
	assert.Contains(t, lines[1], "(1, 4, 4, 2)")
	assert.Contains(t, lines[2], "dw_relu")
	assert.Contains(t, lines[2], "relu")
	assert.Equal(t, "2 layers, 38 parameters", lines[4])

	_, err = execute(t, "summary", "-w", f.weights, "--input-shape", "1,x")
	assert.Error(t, err)
}

func TestConvert(t *testing.T) {
	f := newFixture(t)
	gguf := f.path("model.gguf")

	_, err := execute(t, "convert", "-w", f.weights, "-o", gguf, "--f16")
	require.NoError(t, err)

	out, err := execute(t, "verify", "-w", gguf, "-l", "dw", "-i", f.input, "-e", f.expected)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	back := f.path("back.safetensors")
	_, err = execute(t, "convert", "-w", gguf, "-o", back)
	require.NoError(t, err)

	out, err = execute(t, "summary", "-w", back)
	require.NoError(t, err)
	assert.Contains(t, out, "dw_relu")

	_, err = execute(t, "convert", "-w", f.weights, "-o", f.path("model.onnx"))
	assert.ErrorIs(t, err, weights.ErrInvalidFormat)
}

func TestRunImage(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "rgb.gguf")
	require.NoError(t, weights.SaveGGUF(model, []*weights.Kernel{
		{Name: "rgb", Weights: tensor.New(1, 1, 3, 1).Fill(2)},
	}, weights.GGMLTypeF32))

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	input := filepath.Join(dir, "white.png")
	require.NoError(t, os.WriteFile(input, buf.Bytes(), 0o644))

	output := filepath.Join(dir, "out.npy")
	_, err := execute(t, "run", "-w", model, "-l", "rgb", "-i", input, "-o", output, "--image-size", "4,3")
	require.NoError(t, err)

	got, err := tensorio.LoadNpy(output)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 3, 3}, got.Shape)
	for _, v := range got.Data {
		assert.Equal(t, float32(2), v)
	}

	_, err = execute(t, "run", "-w", model, "-l", "rgb", "-i", input, "-o", output, "--normalize", "zscore")
	assert.ErrorContains(t, err, "normalization")
}

func executeWithLog(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestHelpListsEnvironment(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Environment Variables:")
	assert.Contains(t, out, "DWCONV_NUM_THREADS")
	assert.Contains(t, out, "Worker goroutines used by the kernel")
	assert.Less(t, strings.Index(out, "DWCONV_ATOL"), strings.Index(out, "DWCONV_WARN_ONLY"))
}

func TestVerifyDebugLog(t *testing.T) {
	t.Cleanup(envconfig.LoadConfig)
	f := newFixture(t)
	args := []string{"verify", "-w", f.weights, "-l", "dw", "-i", f.input, "-e", f.expected}

	out, logs, err := executeWithLog(t, append(args, "--debug")...)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
	assert.Contains(t, logs, "Layer (type)")
	assert.Contains(t, logs, "actual_sum=")
	assert.Contains(t, logs, "expected_sum=")
	assert.NotContains(t, logs, "level=TRACE")

	t.Setenv("DWCONV_DEBUG", "2")
	envconfig.LoadConfig()
	_, logs, err = executeWithLog(t, args...)
	require.NoError(t, err)
	assert.Contains(t, logs, "level=TRACE")
	assert.Contains(t, logs, "depthwise forward")
}
