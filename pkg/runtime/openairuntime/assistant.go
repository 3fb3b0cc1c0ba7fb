package openairuntime

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/fata/pkg/runtime"
)

// SystemPrompt instructs the assistant to gather a feature specification,
// kick off the approval process and watch its inbox on every turn.
const SystemPrompt = `You are an AI Agent helping product managers create new feature specifications for a product.
Your role is to gather all the necessary information from the user and then create a detailed feature specification document.
You must gather the following information:
- feature name
- feature description
- user stories
- acceptance criteria
- priority

You must ask the user for further details until you are able to populate the following JSON:
{
    "feature_name": "",
    "feature_description": "",
    "user_stories": [],
    "acceptance_criteria": [],
    "priority": ""
}

Once you have the JSON, you can kick off a long running process and let the user know the process ID.

If you've kicked off a process before, you must check your inbox at every turn.
You must check your inbox after every user message and prioritize any action item from your inbox instead of answering the user question.
If the inbox contains a message that requires your action, you must let the user know and ask for further details.`

// AssistantConfig describes the assistant to resolve or create.
type AssistantConfig struct {
	// AssistantID, when set, is looked up first; creation only happens when
	// it is empty or gone.
	AssistantID  string
	Model        string
	Name         string
	Instructions string
}

// EnsureAssistant retrieves the configured assistant, or creates one with
// the given tool definitions when no usable assistant exists. It returns
// the resolved assistant id.
func EnsureAssistant(ctx context.Context, client *go_openai.Client, cfg AssistantConfig, tools []runtime.ToolDefinition) (string, error) {
	if cfg.AssistantID != "" {
		assistant, err := client.RetrieveAssistant(ctx, cfg.AssistantID)
		if err == nil {
			log.Debug().Str("assistant_id", assistant.ID).Msg("found existing assistant")
			return assistant.ID, nil
		}

		var apiErr *go_openai.APIError
		if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusNotFound {
			return "", errors.Wrapf(err, "failed to retrieve assistant %s", cfg.AssistantID)
		}
		log.Warn().Str("assistant_id", cfg.AssistantID).Msg("configured assistant not found, creating a new one")
	}

	instructions := cfg.Instructions
	if instructions == "" {
		instructions = SystemPrompt
	}
	name := cfg.Name
	if name == "" {
		name = "fata-orchestrator"
	}

	assistantTools := make([]go_openai.AssistantTool, 0, len(tools))
	for _, tool := range tools {
		assistantTools = append(assistantTools, go_openai.AssistantTool{
			Type: go_openai.AssistantToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	assistant, err := client.CreateAssistant(ctx, go_openai.AssistantRequest{
		Model:        cfg.Model,
		Name:         &name,
		Instructions: &instructions,
		Tools:        assistantTools,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to create assistant")
	}

	log.Info().Str("assistant_id", assistant.ID).Str("model", cfg.Model).Msg("created assistant")
	return assistant.ID, nil
}
