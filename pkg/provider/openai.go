package provider

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-3.5-turbo-instruct"

// OpenAIConfig configures the OpenAI-compatible adapter.
type OpenAIConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// Local marks an OpenAI-compatible server running on this machine
	// (llama.cpp, vLLM, LM Studio).
	Local bool
}

// OpenAI generates completions through the legacy completions endpoint,
// which accepts a suffix for fill-in-the-middle.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates the adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("openai provider needs an api key or a custom endpoint")
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai/" + o.cfg.Model }

// Local implements Provider.
func (o *OpenAI) Local() bool { return o.cfg.Local }

// Start implements Provider.
func (o *OpenAI) Start(req Request) (Handle, error) {
	s := NewStream()
	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(o.cfg.Model),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prefix)},
	}
	if req.Suffix != "" {
		params.Suffix = openai.String(req.Suffix)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.CompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if o.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.cfg.MaxTokens))
	}
	if o.cfg.Temperature > 0 {
		params.Temperature = openai.Float(o.cfg.Temperature)
	}

	go func() {
		var sb strings.Builder
		stream := o.client.Completions.NewStreaming(s.Context(), params)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
				continue
			}
			sb.WriteString(chunk.Choices[0].Text)
			s.Emit(sb.String())
		}
		err := stream.Err()
		if cerr := stream.Close(); err == nil && cerr != nil && s.Context().Err() == nil {
			err = cerr
		}
		if err != nil && s.Context().Err() == nil {
			log.Debugf("openai completion stream failed: %v", err)
		}
		s.Close(sb.String(), err)
	}()

	return s, nil
}
