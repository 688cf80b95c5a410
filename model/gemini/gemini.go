// Package gemini implements model.Model on the Google Gemini API via the
// google.golang.org/genai client.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
)

// Options configure the Gemini model adapter.
type Options struct {
	// Model should not start with "models/".
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Model wraps a genai client behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewFromClient creates an adapter from an existing genai client.
func NewFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		MaxOutputTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		cfg, contents, err := m.buildRequest(req)
		if err != nil {
			errCh <- &core.ModelError{Provider: "gemini", Err: err}
			return
		}
		if req.Stream {
			m.generateStreaming(ctx, cfg, contents, out, errCh)
			return
		}
		resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, contents, cfg)
		if err != nil {
			errCh <- &core.ModelError{Provider: "gemini", Err: err}
			return
		}
		if len(resp.Candidates) == 0 {
			errCh <- &core.ModelError{Provider: "gemini", Err: fmt.Errorf("no candidates")}
			return
		}
		final := candidateResponse(resp.Candidates[0])
		final.Usage = usage(resp.UsageMetadata)
		out <- final
	}()
	return out, errCh
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "gemini", SupportsTools: true}
}

func (m *Model) generateStreaming(
	ctx context.Context,
	cfg *genai.GenerateContentConfig,
	contents []*genai.Content,
	out chan<- model.Response,
	errCh chan<- error,
) {
	var (
		text  strings.Builder
		calls []core.FunctionCall
	)
	for chunk, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, contents, cfg) {
		if err != nil {
			errCh <- &core.ModelError{Provider: "gemini", Err: err}
			return
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				switch {
				case p.Text != "":
					text.WriteString(p.Text)
					out <- model.Response{
						Partial: true,
						Content: core.Content{
							Role:  "assistant",
							Parts: []core.Part{core.TextPart{Text: p.Text}},
						},
					}
				case p.FunctionCall != nil:
					calls = append(calls, convCall(p.FunctionCall))
				}
			}
		}
		if cand.FinishReason != genai.FinishReasonUnspecified && cand.FinishReason != "" {
			parts := make([]core.Part, 0, len(calls)+1)
			if text.Len() > 0 {
				parts = append(parts, core.TextPart{Text: text.String()})
			}
			for _, fc := range calls {
				parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
			}
			out <- model.Response{
				Partial:      false,
				Content:      core.Content{Role: "assistant", Parts: parts},
				FinishReason: finishReason(cand.FinishReason),
				Usage:        usage(chunk.UsageMetadata),
			}
			return
		}
	}
	errCh <- &core.ModelError{Provider: "gemini", Err: fmt.Errorf("unexpected end of stream: no finish reason")}
}

func (m *Model) buildRequest(req model.Request) (*genai.GenerateContentConfig, []*genai.Content, error) {
	temperature := m.opts.Temperature
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: m.opts.MaxOutputTokens,
		Temperature:     &temperature,
	}
	if req.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.Instructions)},
		}
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			declarations[i] = &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  convSchema(t.Function.Parameters),
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	var contents []*genai.Content
	for _, c := range req.Contents {
		converted, err := convContent(c)
		if err != nil {
			return nil, nil, err
		}
		if converted != nil {
			contents = append(contents, converted)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("no contents")
	}
	return cfg, contents, nil
}

func convContent(c core.Content) (*genai.Content, error) {
	role := "user"
	if c.Role == "assistant" {
		role = "model"
	}
	var parts []*genai.Part
	for _, p := range c.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				parts = append(parts, genai.NewPartFromText(part.Text))
			}
		case core.BlobPart:
			parts = append(parts, genai.NewPartFromBytes(part.Data, part.MimeType))
		case core.FunctionCallPart:
			var args map[string]any
			if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &args); err != nil {
				args = map[string]any{"text": part.FunctionCall.Arguments}
			}
			parts = append(parts, genai.NewPartFromFunctionCall(part.FunctionCall.Name, args))
		case core.FunctionResponsePart:
			fr := part.FunctionResponse
			result, ok := fr.Response.(map[string]any)
			if !ok {
				result = map[string]any{"result": fmt.Sprintf("%v", fr.Response)}
			}
			if fr.Error != "" {
				result = map[string]any{"error": fr.Error}
			}
			parts = append(parts, genai.NewPartFromFunctionResponse(fr.Name, result))
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &genai.Content{Role: role, Parts: parts}, nil
}

func candidateResponse(cand *genai.Candidate) model.Response {
	var parts []core.Part
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				parts = append(parts, core.TextPart{Text: p.Text})
			case p.FunctionCall != nil:
				parts = append(parts, core.FunctionCallPart{FunctionCall: convCall(p.FunctionCall)})
			}
		}
	}
	return model.Response{
		Partial:      false,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finishReason(cand.FinishReason),
	}
}

func convCall(fc *genai.FunctionCall) core.FunctionCall {
	args, _ := json.Marshal(fc.Args)
	return core.FunctionCall{
		ID:        fc.Name,
		Name:      fc.Name,
		Arguments: string(args),
	}
}

// convSchema translates a JSON-schema map into the genai schema type. Only
// the subset produced by tool definitions is covered.
func convSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	gs := &genai.Schema{}
	if s, ok := schema["description"].(string); ok {
		gs.Description = s
	}
	if s, ok := schema["format"].(string); ok {
		gs.Format = s
	}
	switch required := schema["required"].(type) {
	case []string:
		gs.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				gs.Required = append(gs.Required, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok && len(props) > 0 {
		gs.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if sub, ok := v.(map[string]any); ok {
				gs.Properties[k] = convSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		gs.Items = convSchema(items)
	}
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "object":
			gs.Type = genai.TypeObject
		case "array":
			gs.Type = genai.TypeArray
		case "string":
			gs.Type = genai.TypeString
		case "number":
			gs.Type = genai.TypeNumber
		case "integer":
			gs.Type = genai.TypeInteger
		case "boolean":
			gs.Type = genai.TypeBoolean
		}
	}
	return gs
}

func finishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return string(r)
	}
}

func usage(meta *genai.GenerateContentResponseUsageMetadata) *model.TokenUsage {
	if meta == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(meta.PromptTokenCount),
		CompletionTokens: int(meta.CandidatesTokenCount),
		TotalTokens:      int(meta.TotalTokenCount),
	}
}
