package worker

import (
	"context"
	"fmt"

	"github.com/spacebot-ai/spacebot/internal/llmclient"
	"github.com/spacebot-ai/spacebot/internal/tools"
)

// DefaultToolCatalog builds the tools.Registry every LLM-backed Worker is
// handed by default: a small, general-purpose set that needs no sandboxed
// execution environment, grounded on the teacher's tools.Registry but
// trimmed to what a Worker can safely run inline.
func DefaultToolCatalog() *tools.Registry {
	reg := tools.NewRegistry()
	_ = reg.Register(&tools.Tool{
		Name:        "note",
		Description: "Record a durable observation the calling agent will see in its conclusion, without ending the task.",
		Category:    tools.CategoryGeneral,
		Schema: tools.ToolSchema{
			Required: []string{"text"},
			Properties: map[string]tools.Property{
				"text": {Type: "string", Description: "the observation to record"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return fmt.Sprintf("noted: %s", text), nil
		},
	})
	_ = reg.Register(&tools.Tool{
		Name:        "finish",
		Description: "End the task with a final answer.",
		Category:    tools.CategoryGeneral,
		Schema: tools.ToolSchema{
			Required: []string{"answer"},
			Properties: map[string]tools.Property{
				"answer": {Type: "string", Description: "the final answer to return"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			answer, _ := args["answer"].(string)
			return answer, nil
		},
	})
	return reg
}

// ToolSpecs converts every tool in reg into the llmclient.ToolSpec shape
// the chat-completion provider expects.
func ToolSpecs(reg *tools.Registry) []llmclient.ToolSpec {
	all := reg.All()
	specs := make([]llmclient.ToolSpec, 0, len(all))
	for _, t := range all {
		specs = append(specs, llmclient.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaToMap(t.Schema),
		})
	}
	return specs
}

func schemaToMap(s tools.ToolSchema) map[string]any {
	properties := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		entry := map[string]any{
			"type":        prop.Type,
			"description": prop.Description,
		}
		if prop.Default != nil {
			entry["default"] = prop.Default
		}
		if len(prop.Enum) > 0 {
			entry["enum"] = prop.Enum
		}
		if prop.Items != nil {
			entry["items"] = map[string]any{"type": prop.Items.Type}
		}
		properties[name] = entry
	}
	return map[string]any{
		"type":       "object",
		"required":   s.Required,
		"properties": properties,
	}
}
