// Package narrative asks a language model for a short plain-language summary
// of a site's seasonal WQI series.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/wqiforecast/internal/httputil"
	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/wqi"
)

var (
	ErrNoAPIKey  = errors.New("no OpenAI API key configured")
	ErrNoResults = errors.New("no results to summarise")
)

const systemPrompt = `You write short summaries of river water quality for the public.
You are given a seasonal series of CCME Water Quality Index values (0 to 100, higher is better)
with their rating. Periods marked "forecast" include SARIMA projections rather than measurements.
Describe the overall level, the seasonal pattern, notable drops and what the forecast suggests.
Use at most 120 words, no headings or lists.`

// Writer produces narratives with the OpenAI chat API.
type Writer struct {
	client openai.Client
	model  openai.ChatModel
}

// NewWriter returns ErrNoAPIKey when apiKey is empty. baseURL may be empty.
func NewWriter(apiKey, baseURL string) (*Writer, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httputil.NewClient()),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Writer{
		client: openai.NewClient(opts...),
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

func (w *Writer) Summarise(ctx context.Context, site models.Site, results []models.WQIResult) (string, error) {
	if len(results) == 0 {
		return "", ErrNoResults
	}
	prompt := BuildPrompt(site, results)
	log.Printf("narrative: summarising %d periods for %s", len(results), site.SiteID)

	resp, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: w.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(300),
		Temperature:         openai.Float(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty summary returned")
	}
	return text, nil
}

// BuildPrompt lists the series one period per line.
func BuildPrompt(site models.Site, results []models.WQIResult) string {
	var b strings.Builder
	name := site.Name
	if name == "" {
		name = site.SiteID
	}
	fmt.Fprintf(&b, "Site: %s", name)
	if site.River != "" {
		fmt.Fprintf(&b, " on the %s", site.River)
	}
	b.WriteString("\n\nSeason | WQI | Rating | Source\n")
	for _, r := range results {
		value := "n/a"
		if r.WQI.Valid {
			value = fmt.Sprintf("%.1f", r.WQI.Float64)
		}
		rating := r.Rating
		if rating == "" {
			rating = string(wqi.RatingUndefined)
		}
		source := "observed"
		if r.HasForecast {
			source = "forecast"
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", r.Label, value, rating, source)
	}
	return b.String()
}
