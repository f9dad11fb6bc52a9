// Package config provides the YAML configuration schema and loader for the
// streamformer encoder.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/streamformer/streamformer/pkg/encoder"
	"github.com/streamformer/streamformer/pkg/nn"
)

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Segment    SegmentConfig    `yaml:"segment"`
	Memory     MemoryConfig     `yaml:"memory"`
	Subsampler SubsamplerConfig `yaml:"subsampler"`
}

// ModelConfig holds the transformer stack hyperparameters.
type ModelConfig struct {
	InputFeatures   int  `yaml:"input_features"`
	EmbedDim        int  `yaml:"embed_dim"`
	AttentionHeads  int  `yaml:"attention_heads"`
	Layers          int  `yaml:"layers"`
	FFNDim          int  `yaml:"ffn_dim"`
	NormalizeBefore bool `yaml:"normalize_before"`

	Dropout           float64 `yaml:"dropout"`
	AttentionDropout  float64 `yaml:"attention_dropout"`
	ActivationDropout float64 `yaml:"activation_dropout"`
}

// SegmentConfig holds streaming segmentation sizes in raw frames, before
// subsampling.
type SegmentConfig struct {
	Size         int `yaml:"size"`
	LeftContext  int `yaml:"left_context"`
	RightContext int `yaml:"right_context"`
}

// MemoryConfig holds the augmented-memory settings.
type MemoryConfig struct {
	// MaxSize bounds the per-layer memory bank; 0 retains nothing, -1 is
	// unbounded.
	MaxSize int `yaml:"max_size"`

	// SuppressionScale is the std-dev multiple for attention suppression;
	// 0 disables the filter.
	SuppressionScale float64 `yaml:"suppression_scale"`

	TanhOnMem       bool `yaml:"tanh_on_mem"`
	DisableMemOnMem bool `yaml:"disable_mem_on_mem"`
}

// SubsamplerConfig describes the strided conv stack.
type SubsamplerConfig struct {
	Channels int   `yaml:"channels"`
	Kernel   int   `yaml:"kernel"`
	Strides  []int `yaml:"strides"`
}

// Default returns the configuration used when no file is supplied: an
// 80-dim filterbank front end, a 512-dim 8-head stack, and the memory
// settings from the augmented-memory paper.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			InputFeatures:   80,
			EmbedDim:        512,
			AttentionHeads:  8,
			Layers:          12,
			FFNDim:          2048,
			NormalizeBefore: true,
			Dropout:         0.1,
		},
		Segment: SegmentConfig{
			Size:         128,
			LeftContext:  32,
			RightContext: 32,
		},
		Memory: MemoryConfig{
			MaxSize:          16,
			SuppressionScale: 0.5,
			TanhOnMem:        true,
			DisableMemOnMem:  true,
		},
		Subsampler: SubsamplerConfig{
			Channels: 64,
			Kernel:   3,
			Strides:  []int{2, 2},
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Model.InputFeatures <= 0 {
		errs = append(errs, fmt.Errorf("model.input_features must be positive, got %d", cfg.Model.InputFeatures))
	}
	if cfg.Model.EmbedDim <= 0 {
		errs = append(errs, fmt.Errorf("model.embed_dim must be positive, got %d", cfg.Model.EmbedDim))
	}
	if cfg.Model.AttentionHeads <= 0 {
		errs = append(errs, fmt.Errorf("model.attention_heads must be positive, got %d", cfg.Model.AttentionHeads))
	} else if cfg.Model.EmbedDim%cfg.Model.AttentionHeads != 0 {
		errs = append(errs, fmt.Errorf("model.embed_dim %d must be divisible by model.attention_heads %d",
			cfg.Model.EmbedDim, cfg.Model.AttentionHeads))
	}
	if cfg.Model.Layers <= 0 {
		errs = append(errs, fmt.Errorf("model.layers must be positive, got %d", cfg.Model.Layers))
	}
	if cfg.Model.FFNDim <= 0 {
		errs = append(errs, fmt.Errorf("model.ffn_dim must be positive, got %d", cfg.Model.FFNDim))
	}
	for _, d := range []struct {
		name string
		rate float64
	}{
		{"model.dropout", cfg.Model.Dropout},
		{"model.attention_dropout", cfg.Model.AttentionDropout},
		{"model.activation_dropout", cfg.Model.ActivationDropout},
	} {
		if d.rate < 0 || d.rate >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1), got %g", d.name, d.rate))
		}
	}

	if cfg.Segment.Size <= 0 {
		errs = append(errs, fmt.Errorf("segment.size must be positive, got %d", cfg.Segment.Size))
	}
	if cfg.Segment.LeftContext < 0 || cfg.Segment.RightContext < 0 {
		errs = append(errs, fmt.Errorf("segment contexts must be non-negative, got left=%d right=%d",
			cfg.Segment.LeftContext, cfg.Segment.RightContext))
	}

	if cfg.Memory.MaxSize < -1 {
		errs = append(errs, fmt.Errorf("memory.max_size must be >= -1, got %d", cfg.Memory.MaxSize))
	}
	if cfg.Memory.SuppressionScale < 0 {
		errs = append(errs, fmt.Errorf("memory.suppression_scale must be non-negative, got %g", cfg.Memory.SuppressionScale))
	}

	stride := 1
	for i, s := range cfg.Subsampler.Strides {
		if s <= 0 {
			errs = append(errs, fmt.Errorf("subsampler.strides[%d] must be positive, got %d", i, s))
			continue
		}
		stride *= s
	}
	if len(cfg.Subsampler.Strides) > 0 {
		if cfg.Subsampler.Channels <= 0 {
			errs = append(errs, fmt.Errorf("subsampler.channels must be positive, got %d", cfg.Subsampler.Channels))
		}
		if cfg.Subsampler.Kernel <= 0 {
			errs = append(errs, fmt.Errorf("subsampler.kernel must be positive, got %d", cfg.Subsampler.Kernel))
		}
	}
	if cfg.Segment.LeftContext%stride != 0 || cfg.Segment.RightContext%stride != 0 {
		errs = append(errs, fmt.Errorf("segment contexts (left=%d, right=%d) must be multiples of the subsampler stride %d",
			cfg.Segment.LeftContext, cfg.Segment.RightContext, stride))
	}

	return errors.Join(errs...)
}

// Encoder maps the configuration onto the encoder's native config.
func (cfg *Config) Encoder() encoder.Config {
	var layers []nn.ConvLayerConfig
	for _, s := range cfg.Subsampler.Strides {
		layers = append(layers, nn.ConvLayerConfig{
			OutChannels: cfg.Subsampler.Channels,
			Kernel:      cfg.Subsampler.Kernel,
			Stride:      s,
		})
	}
	return encoder.Config{
		InputFeatures:     cfg.Model.InputFeatures,
		EmbedDim:          cfg.Model.EmbedDim,
		NumHeads:          cfg.Model.AttentionHeads,
		Layers:            cfg.Model.Layers,
		FFNDim:            cfg.Model.FFNDim,
		NormalizeBefore:   cfg.Model.NormalizeBefore,
		Dropout:           cfg.Model.Dropout,
		AttentionDropout:  cfg.Model.AttentionDropout,
		ActivationDropout: cfg.Model.ActivationDropout,
		LeftContext:       cfg.Segment.LeftContext,
		RightContext:      cfg.Segment.RightContext,
		MaxMemorySize:     cfg.Memory.MaxSize,
		SuppressionScale:  cfg.Memory.SuppressionScale,
		TanhOnMem:         cfg.Memory.TanhOnMem,
		DisableMemOnMem:   cfg.Memory.DisableMemOnMem,
		Subsampler:        layers,
	}
}
