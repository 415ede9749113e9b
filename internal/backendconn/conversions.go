package backendconn

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// convertTools adapts mcp-go's tool descriptors into the stable
// ToolDescriptor wire shape the Tool Router and Catalog Resolver consume.
func convertTools(in []mcp.Tool) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(in))
	for _, t := range in {
		schema, _ := json.Marshal(t.InputSchema)
		out = append(out, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return out
}

// convertCallToolResult adapts mcp-go's CallToolResult into an InvokeResult.
// Text content is forwarded verbatim; any other content variant (image,
// embedded resource) is carried as opaque JSON in Data so the ambassador
// never needs to understand every content kind a backend might return.
func convertCallToolResult(resp *mcp.CallToolResult) *InvokeResult {
	out := &InvokeResult{
		IsError: resp.IsError,
		Content: make([]ContentItem, 0, len(resp.Content)),
	}
	for _, c := range resp.Content {
		if text, ok := c.(mcp.TextContent); ok {
			out.Content = append(out.Content, ContentItem{Type: "text", Text: text.Text})
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		out.Content = append(out.Content, ContentItem{Type: "data", Data: data})
	}
	return out
}
