package providers

import (
	"context"
	"errors"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// OpenAI adapters: chat completion for direction, DALL·E 3 for frames.
// ---------------------------------------------------------------------------

const (
	openaiDefaultChatModel  = "gpt-4o"
	openaiDefaultImageModel = openai.CreateImageModelDallE3

	// Per-unit cost estimates (USD). Used only for upfront disclosure —
	// the provider's billed amount is authoritative.
	openaiCostPerMInputTokens  = 2.50
	openaiCostPerMOutputTokens = 10.00
	openaiCostPerImage         = 0.08
)

func newOpenAIClient(cred *Credential) *openai.Client {
	token := ""
	endpoint := ""
	if cred != nil {
		token = cred.Token
		endpoint = cred.Endpoint
	}
	cfg := openai.DefaultConfig(token)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return openai.NewClientWithConfig(cfg)
}

// classifyOpenAIErr maps go-openai errors onto the retry taxonomy.
func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusErr(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusErr(reqErr.HTTPStatusCode, reqErr.Error())
	}
	// Transport-level failure with no response: retryable.
	return retryableErr("openai request failed: %v", err)
}

// OpenAIText implements TextCompletion over the chat completions API.
type OpenAIText struct {
	client *openai.Client
	model  string
}

func NewOpenAIText(cred *Credential) *OpenAIText {
	model := openaiDefaultChatModel
	if cred != nil && cred.Model != "" {
		model = cred.Model
	}
	return &OpenAIText{client: newOpenAIClient(cred), model: model}
}

func (s *OpenAIText) Chat(ctx context.Context, systemPrompt, userPrompt string, opts ChatOptions) (*ChatResult, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONResponse {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, permanentErr("no choices in openai response")
	}

	return &ChatResult{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (s *OpenAIText) EstimateTextCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*openaiCostPerMInputTokens +
		float64(outputTokens)/1e6*openaiCostPerMOutputTokens
}

// OpenAIImage implements ImageSynthesis over the images API. The API hosts
// the result and returns a URL, which is what the pipeline records.
type OpenAIImage struct {
	client *openai.Client
	model  string
}

func NewOpenAIImage(cred *Credential) *OpenAIImage {
	model := openaiDefaultImageModel
	if cred != nil && cred.Model != "" {
		model = cred.Model
	}
	return &OpenAIImage{client: newOpenAIClient(cred), model: model}
}

// openaiImageSize maps the requested frame size onto the nearest size the
// images API supports (it only offers square, wide, and tall).
func openaiImageSize(width, height int) string {
	switch {
	case width > height:
		return "1792x1024"
	case height > width:
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

func (s *OpenAIImage) Synthesize(ctx context.Context, prompt string, width, height int, seed *int64) (*Image, error) {
	resp, err := s.client.CreateImage(ctx, openai.ImageRequest{
		Model:          s.model,
		Prompt:         prompt,
		N:              1,
		Size:           openaiImageSize(width, height),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, permanentErr("no image URL in openai response")
	}

	log.Printf("[OpenAI Image] Frame generated (model=%s, size=%s)", s.model, openaiImageSize(width, height))

	img := &Image{URL: resp.Data[0].URL, Width: width, Height: height}
	if seed != nil {
		img.Seed = *seed
	}
	return img, nil
}

func (s *OpenAIImage) EstimateImageCost() float64 {
	return openaiCostPerImage
}

var _ TextCompletion = (*OpenAIText)(nil)
var _ ImageSynthesis = (*OpenAIImage)(nil)
