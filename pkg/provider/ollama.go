package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5-coder:1.5b"
)

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	// Remote marks an Ollama server that is not running on this machine.
	Remote bool
}

// Ollama generates completions through an Ollama server using its native
// prompt+suffix generate endpoint.
type Ollama struct {
	client *api.Client
	cfg    OllamaConfig
}

// NewOllama creates the adapter. An empty endpoint or model falls back to
// the local defaults.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama endpoint %q: %w", cfg.Endpoint, err)
	}
	httpClient := &http.Client{
		// local inference can be slow to warm up
		Timeout: 5 * time.Minute,
	}
	return &Ollama{
		client: api.NewClient(base, httpClient),
		cfg:    cfg,
	}, nil
}

// Name implements Provider.
func (o *Ollama) Name() string { return "ollama/" + o.cfg.Model }

// Local implements Provider.
func (o *Ollama) Local() bool { return !o.cfg.Remote }

// Start implements Provider.
func (o *Ollama) Start(req Request) (Handle, error) {
	s := NewStream()
	stream := true
	options := map[string]any{}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if o.cfg.MaxTokens > 0 {
		options["num_predict"] = o.cfg.MaxTokens
	}
	if o.cfg.Temperature > 0 {
		options["temperature"] = o.cfg.Temperature
	}
	genReq := &api.GenerateRequest{
		Model:   o.cfg.Model,
		Prompt:  req.Prefix,
		Suffix:  req.Suffix,
		Stream:  &stream,
		Options: options,
	}

	go func() {
		var sb strings.Builder
		err := o.client.Generate(s.Context(), genReq, func(resp api.GenerateResponse) error {
			if resp.Response != "" {
				sb.WriteString(resp.Response)
				s.Emit(sb.String())
			}
			return nil
		})
		if err != nil && s.Context().Err() == nil {
			log.Debugf("ollama generate failed: %v", err)
		}
		s.Close(sb.String(), err)
	}()

	return s, nil
}
