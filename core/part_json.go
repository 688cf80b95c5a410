package core

import (
	"encoding/json"
	"fmt"
)

// partEnvelope is the tagged wire form of a Part, used wherever content
// crosses a serialization boundary (stored sessions, transports).
type partEnvelope struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             []byte            `json:"data,omitempty"`
	MimeType         string            `json:"mime_type,omitempty"`
	URI              string            `json:"uri,omitempty"`
	Name             string            `json:"name,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

const (
	partTypeText             = "text"
	partTypeBlob             = "blob"
	partTypeFileRef          = "file_ref"
	partTypeFunctionCall     = "function_call"
	partTypeFunctionResponse = "function_response"
)

// MarshalJSON implements json.Marshaler with a type tag per part.
func (c Content) MarshalJSON() ([]byte, error) {
	envelopes := make([]partEnvelope, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch t := p.(type) {
		case TextPart:
			envelopes = append(envelopes, partEnvelope{Type: partTypeText, Text: t.Text})
		case BlobPart:
			envelopes = append(envelopes, partEnvelope{Type: partTypeBlob, Data: t.Data, MimeType: t.MimeType})
		case FileRefPart:
			envelopes = append(envelopes, partEnvelope{Type: partTypeFileRef, URI: t.URI, MimeType: t.MimeType, Name: t.Name})
		case FunctionCallPart:
			fc := t.FunctionCall
			envelopes = append(envelopes, partEnvelope{Type: partTypeFunctionCall, FunctionCall: &fc})
		case FunctionResponsePart:
			fr := t.FunctionResponse
			envelopes = append(envelopes, partEnvelope{Type: partTypeFunctionResponse, FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
	}
	return json.Marshal(struct {
		Role  string         `json:"role,omitempty"`
		Parts []partEnvelope `json:"parts"`
	}{Role: c.Role, Parts: envelopes})
}

// UnmarshalJSON implements json.Unmarshaler, reversing the type tags.
func (c *Content) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role  string         `json:"role"`
		Parts []partEnvelope `json:"parts"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Role = wire.Role
	c.Parts = nil
	for _, env := range wire.Parts {
		switch env.Type {
		case partTypeText:
			c.Parts = append(c.Parts, TextPart{Text: env.Text})
		case partTypeBlob:
			c.Parts = append(c.Parts, BlobPart{Data: env.Data, MimeType: env.MimeType})
		case partTypeFileRef:
			c.Parts = append(c.Parts, FileRefPart{URI: env.URI, MimeType: env.MimeType, Name: env.Name})
		case partTypeFunctionCall:
			var fc FunctionCall
			if env.FunctionCall != nil {
				fc = *env.FunctionCall
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: fc})
		case partTypeFunctionResponse:
			var fr FunctionResponse
			if env.FunctionResponse != nil {
				fr = *env.FunctionResponse
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: fr})
		default:
			return fmt.Errorf("unknown part type %q", env.Type)
		}
	}
	return nil
}
