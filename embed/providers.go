package embed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	genai "github.com/google/generative-ai-go/genai"
	ollama "github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"

	"github.com/Raezil/hsg-memory/model"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint via go-openai,
// retrying per §4.3 before callers fall back to Synthetic.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(modelName string) (Embedder, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_KEY")
	}
	if key == "" {
		return nil, errors.New("embed: missing OPENAI_API_KEY")
	}
	if modelName == "" {
		modelName = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClient(key), model: modelName}, nil
}

func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, _ model.Sector) ([]float32, error) {
	return retryBackoff(ctx, 3, time.Second, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if apiErr, ok := err.(*openai.APIError); ok && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
				return nil, &RetryAfter{Err: err, After: 2 * time.Second}
			}
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, ErrNotSupported
		}
		return resp.Data[0].Embedding, nil
	})
}

// GeminiEmbedder calls Google's generative-ai-go embedding model, the
// provider the teacher calls "Vertex" despite using the public Gemini API
// key auth path (genai.NewClient with option.WithAPIKey).
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	name   string
}

func NewGeminiEmbedder(modelName string) (Embedder, error) {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("embed: missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	cli, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cli, model: cli.EmbeddingModel(modelName), name: modelName}, nil
}

func (e *GeminiEmbedder) Name() string { return "gemini:" + e.name }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string, _ model.Sector) ([]float32, error) {
	return retryBackoff(ctx, 3, time.Second, func() ([]float32, error) {
		resp, err := e.model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, ErrNotSupported
		}
		return resp.Embedding.Values, nil
	})
}

// OllamaEmbedder calls a local Ollama HTTP embedding server; since a
// single Ollama instance typically serializes model invocations, query-time
// fan-out across sectors for this provider degrades to sequential calls
// (see the engine's parallelism note in SPEC_FULL.md §5).
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

func NewOllamaEmbedder(modelName string) (Embedder, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	cli := ollama.NewClient(u, httpClient)
	if modelName == "" {
		modelName = "nomic-embed-text"
	}
	return &OllamaEmbedder{client: cli, model: modelName}, nil
}

func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }

// SingleFlight is true for providers whose rate limits demand serialized
// calls (§5's "provider that requires single-flight ordering").
func (e *OllamaEmbedder) SingleFlight() bool { return true }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string, _ model.Sector) ([]float32, error) {
	return retryBackoff(ctx, 3, time.Second, func() ([]float32, error) {
		res, err := e.client.Embed(ctx, &ollama.EmbedRequest{Model: e.model, Input: text})
		if err != nil {
			return nil, err
		}
		if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
			return nil, ErrNotSupported
		}
		return res.Embeddings[0], nil
	})
}

// FastEmbedder wraps a local ONNX bge-small-en-v1.5 model via
// anush008/fastembed-go, for fully offline semantic embeddings.
type FastEmbedder struct {
	m   *fastembed.FlagEmbedding
	dim int
}

func NewFastEmbedder(cacheDir string) (Embedder, error) {
	init := &fastembed.InitOptions{CacheDir: cacheDir}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, err
	}
	return &FastEmbedder{m: m, dim: 384}, nil
}

func (e *FastEmbedder) Name() string { return "fastembed:bge-small-en-v1.5" }

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) Embed(_ context.Context, text string, _ model.Sector) ([]float32, error) {
	out, err := e.m.QueryEmbed(text)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotSupported
	}
	return out, nil
}

// ClaudeEmbedder is a documented no-op: Anthropic publishes no public
// embeddings endpoint, so this provider always defers to the synthetic
// fallback via SafeEmbed. Kept so AutoEmbedder's provider switch does not
// need a special case for an unconfigured "claude" selection.
type ClaudeEmbedder struct{ model string }

func NewClaudeEmbedder(modelName string) (Embedder, error) {
	return &ClaudeEmbedder{model: modelName}, nil
}

func (c *ClaudeEmbedder) Name() string { return "claude:unsupported" }

func (c *ClaudeEmbedder) Embed(context.Context, string, model.Sector) ([]float32, error) {
	return nil, ErrNotSupported
}

// AutoEmbedder selects a provider from the HSG_EMB_KIND env var (falling
// back to key-presence heuristics, then Synthetic), mirroring
// pkg/memory/embeeding.go's AutoEmbedder provider switch generalized to
// this engine's HSG_ env-var prefix (§6 "emb_kind").
func AutoEmbedder(dim int) Embedder {
	return AutoEmbedderKind(os.Getenv("HSG_EMB_KIND"), dim)
}

// AutoEmbedderKind is AutoEmbedder with the provider tag supplied by the
// caller (§6 "emb_kind") instead of read from the environment; an empty
// or unknown tag falls through to the key-presence heuristics.
func AutoEmbedderKind(embKind string, dim int) Embedder {
	kind := strings.ToLower(strings.TrimSpace(embKind))
	modelName := strings.TrimSpace(os.Getenv("HSG_EMB_MODEL"))

	switch kind {
	case "openai":
		if e, err := NewOpenAIEmbedder(modelName); err == nil {
			return e
		}
	case "gemini", "google", "vertex", "vertexai":
		if e, err := NewGeminiEmbedder(modelName); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(modelName); err == nil {
			return e
		}
	case "fastembed":
		if e, err := NewFastEmbedder(os.Getenv("HSG_FASTEMBED_CACHE")); err == nil {
			return e
		}
	case "claude", "anthropic":
		if e, err := NewClaudeEmbedder(modelName); err == nil {
			return e
		}
	}

	if os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENAI_KEY") != "" {
		if e, err := NewOpenAIEmbedder(modelName); err == nil {
			return e
		}
	}
	if os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != "" {
		if e, err := NewGeminiEmbedder(modelName); err == nil {
			return e
		}
	}
	if os.Getenv("OLLAMA_HOST") != "" {
		if e, err := NewOllamaEmbedder(modelName); err == nil {
			return e
		}
	}
	return NewSynthetic(dim)
}
