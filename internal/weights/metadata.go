package weights

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/FlavioCFOliveira/GoDepthwise/internal/layer"
	"github.com/FlavioCFOliveira/GoDepthwise/internal/tensor"
)

// LayerConfig is the per-layer metadata stored next to the tensors.
type LayerConfig struct {
	Strides         []int  `mapstructure:"strides"`
	Padding         string `mapstructure:"padding"`
	DepthMultiplier int    `mapstructure:"depth_multiplier"`
	Activation      string `mapstructure:"activation"`
	UseBias         bool   `mapstructure:"use_bias"`
}

// DefaultLayerConfig matches a depthwise layer built with no arguments.
func DefaultLayerConfig() LayerConfig {
	return LayerConfig{
		Strides:         []int{1, 1},
		Padding:         string(layer.PaddingValid),
		DepthMultiplier: 1,
		Activation:      "linear",
		UseBias:         true,
	}
}

// KernelConfig converts the metadata into kernel configuration.
// A single stride applies to both axes.
func (c LayerConfig) KernelConfig() (layer.Config, error) {
	var cfg layer.Config
	switch len(c.Strides) {
	case 1:
		cfg.StrideH, cfg.StrideW = c.Strides[0], c.Strides[0]
	case 2:
		cfg.StrideH, cfg.StrideW = c.Strides[0], c.Strides[1]
	default:
		return cfg, fmt.Errorf("%w: strides must have 1 or 2 values, got %v", layer.ErrInvalidConfiguration, c.Strides)
	}

	p, err := layer.ParsePadding(c.Padding)
	if err != nil {
		return cfg, err
	}
	cfg.Padding = p
	return cfg, nil
}

// withDefaults fills unset fields from DefaultLayerConfig and the weight shape.
func (c LayerConfig) withDefaults(weights *tensor.Tensor) LayerConfig {
	def := DefaultLayerConfig()
	if len(c.Strides) == 0 {
		c.Strides = def.Strides
	}
	if c.Padding == "" {
		c.Padding = def.Padding
	}
	if c.Activation == "" {
		c.Activation = def.Activation
	}
	if weights != nil && weights.Rank() == 4 {
		c.DepthMultiplier = weights.Dim(3)
	}
	return c
}

// metadata renders the config as string key/values under prefix.
func (c LayerConfig) metadata(prefix string) map[string]string {
	strides := make([]string, len(c.Strides))
	for i, s := range c.Strides {
		strides[i] = strconv.Itoa(s)
	}
	return map[string]string{
		prefix + "strides":          strings.Join(strides, ","),
		prefix + "padding":          c.Padding,
		prefix + "depth_multiplier": strconv.Itoa(c.DepthMultiplier),
		prefix + "activation":       c.Activation,
		prefix + "use_bias":         strconv.FormatBool(c.UseBias),
	}
}

// decodeLayerConfig reads every "<prefix><field>" entry of meta into a
// LayerConfig, starting from the defaults. A zero DepthMultiplier in the
// result means the metadata did not name one.
func decodeLayerConfig(meta map[string]string, prefix string) (LayerConfig, error) {
	cfg := DefaultLayerConfig()
	cfg.DepthMultiplier = 0

	raw := make(map[string]any)
	for k, v := range meta {
		field, ok := strings.CutPrefix(k, prefix)
		if !ok || strings.Contains(field, ".") {
			continue
		}
		v = strings.Trim(strings.ReplaceAll(v, " ", ""), "()[]")
		raw[field] = v
	}
	if len(raw) == 0 {
		return cfg, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("%w: metadata %s*: %v", ErrInvalidFormat, prefix, err)
	}
	return cfg, nil
}
