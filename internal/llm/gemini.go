package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/genai"
)

// Gemini is the production provider backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini provider using API-key auth.
func NewGemini(ctx context.Context, apiKey string, logger *slog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &Gemini{client: client, logger: logger}, nil
}

// Generate sends the transcript and tool declarations to Gemini and decodes
// the reply into a Turn. Calls to the plan function are split out onto
// Turn.Plan; everything else lands on Turn.ToolCalls.
func (g *Gemini) Generate(ctx context.Context, req Request) (Turn, error) {
	contents, err := contentsFromMessages(req.Messages)
	if err != nil {
		return Turn{}, fmt.Errorf("llm: encode transcript: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if decls := declarationsFromTools(req.Tools); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return Turn{}, classifyGeminiError(err)
	}

	turn, err := turnFromResponse(resp)
	if err != nil {
		return Turn{}, err
	}
	g.logger.Debug("llm: gemini turn",
		"model", req.Model,
		"tool_calls", len(turn.ToolCalls),
		"input_tokens", turn.InputTokens,
		"output_tokens", turn.OutputTokens)
	return turn, nil
}

func contentsFromMessages(messages []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		for _, tc := range m.ToolCalls {
			args, err := decodeArgs(tc.Args)
			if err != nil {
				return nil, fmt.Errorf("decode args for %s: %w", tc.Name, err)
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   tc.ID,
				Name: tc.Name,
				Args: args,
			}})
		}
		for _, tr := range m.ToolResults {
			response := map[string]any{"success": tr.Success}
			if len(tr.Output) > 0 {
				var out any
				if err := json.Unmarshal(tr.Output, &out); err == nil {
					response["output"] = out
				} else {
					response["output"] = string(tr.Output)
				}
			}
			if tr.ErrorMessage != "" {
				response["error"] = tr.ErrorMessage
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       tr.CallID,
				Name:     tr.Name,
				Response: response,
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func turnFromResponse(resp *genai.GenerateContentResponse) (Turn, error) {
	var turn Turn
	if resp.UsageMetadata != nil {
		turn.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		turn.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Turn{}, fmt.Errorf("llm: empty gemini response")
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			turn.Text += part.Text
		}
		fc := part.FunctionCall
		if fc == nil {
			continue
		}
		if fc.Name == PlanToolName {
			turn.Plan = append(turn.Plan, planFromArgs(fc.Args)...)
			continue
		}
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return Turn{}, fmt.Errorf("llm: encode args for %s: %w", fc.Name, err)
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:   callID(fc, len(turn.ToolCalls)),
			Name: fc.Name,
			Args: args,
		})
	}
	return turn, nil
}

func planFromArgs(args map[string]any) []string {
	items, _ := args["todos"].([]any)
	plan := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			plan = append(plan, s)
		}
	}
	return plan
}

// callID returns the model-assigned call ID, or a positional fallback since
// Gemini omits IDs on some responses.
func callID(fc *genai.FunctionCall, index int) string {
	if fc.ID != "" {
		return fc.ID
	}
	return fmt.Sprintf("%s-%d", fc.Name, index)
}

// PlanDeclaration is the function declaration for the plan-publishing tool,
// appended to every request alongside the real tools.
func PlanDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        PlanToolName,
		Description: "Publish or revise the step-by-step plan for this request as a list of short todo descriptions.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"todos": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"todos"},
		},
	}
}

func declarationsFromTools(tools []mcp.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools)+1)
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMCP(t.InputSchema),
		})
	}
	decls = append(decls, PlanDeclaration())
	return decls
}

func schemaFromMCP(in mcp.ToolInputSchema) *genai.Schema {
	schema := &genai.Schema{
		Type:     genai.TypeObject,
		Required: in.Required,
	}
	if len(in.Properties) > 0 {
		schema.Properties = make(map[string]*genai.Schema, len(in.Properties))
		for name, prop := range in.Properties {
			m, ok := prop.(map[string]any)
			if !ok {
				continue
			}
			schema.Properties[name] = schemaFromMap(m)
		}
	}
	return schema
}

func schemaFromMap(m map[string]any) *genai.Schema {
	schema := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		schema.Type = genaiType(t)
	}
	if d, ok := m["description"].(string); ok {
		schema.Description = d
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = schemaFromMap(items)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				schema.Properties[name] = schemaFromMap(pm)
			}
		}
	}
	return schema
}

func genaiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// classifyGeminiError tags rate limits and upstream 5xx as transient so the
// supervisor's retry policy applies.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return MarkTransient(fmt.Errorf("llm: gemini: %w", err))
		}
	}
	return fmt.Errorf("llm: gemini: %w", err)
}
