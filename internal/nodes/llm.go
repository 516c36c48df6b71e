package nodes

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/pkg/schema"
)

// ChatCompleter produces a single chat completion. Implemented by
// OpenAIChat; the router's llm mode and the llm executor share it.
type ChatCompleter interface {
	Complete(ctx context.Context, model, system, prompt string) (string, error)
}

// OpenAIChat is the openai-go backed ChatCompleter.
type OpenAIChat struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIChat builds a chat client. baseURL is optional for
// OpenAI-compatible endpoints.
func NewOpenAIChat(apiKey, baseURL, defaultModel string) *OpenAIChat {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if defaultModel == "" {
		defaultModel = openai.ChatModelGPT4oMini
	}
	return &OpenAIChat{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

// Complete sends a single-turn chat request and returns the assistant text.
func (c *OpenAIChat) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeExecutor, "chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// LLMExecutor produces a chat completion from the node's prompt. Template
// references in the prompt are resolved by the run loop before execution,
// so the prompt here is already concrete.
type LLMExecutor struct {
	Chat ChatCompleter
}

func (e *LLMExecutor) Type() string { return schema.NodeTypeLLM }

func (e *LLMExecutor) Execute(ctx context.Context, ec *ExecutionContext, node *schema.Node, input any) (*Result, error) {
	if e.Chat == nil {
		return nil, schema.NewError(schema.ErrCodeExecutor, "llm executor has no chat client").WithNode(node.ID)
	}

	prompt := node.String("prompt", "")
	if prompt == "" {
		prompt = expressions.PrimaryText(input)
	}
	if prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "llm node has no prompt and no input").WithNode(node.ID)
	}

	reply, err := e.Chat.Complete(ctx, node.String("model", ""), node.String("system", ""), prompt)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutor, "chat completion: %s", err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return &Result{Value: map[string]any{"response": reply}}, nil
}
