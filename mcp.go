// CLAUDE:SUMMARY Registers the dominject MCP tools: status, rescan, detach, integrations.
package dominject

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dominject/internal/kit"
)

// RegisterMCP registers the injector tools on an MCP server.
func (i *Injector) RegisterMCP(srv *mcp.Server) {
	eps := i.endpoints()
	pageID := map[string]any{"type": "string", "description": "Page id as configured or attached"}

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dominject_status",
		Description: "List attached pages with per-integration scan counters. Optionally restricted to one page.",
		InputSchema: kit.InputSchema(map[string]any{"page_id": pageID}, nil),
	}, eps.status, decodeArgs[statusRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dominject_rescan",
		Description: "Scan every integration of a page now and return what was mounted.",
		InputSchema: kit.InputSchema(map[string]any{"page_id": pageID}, []string{"page_id"}),
	}, eps.rescan, decodeArgs[rescanRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dominject_detach",
		Description: "Stop decorating a page and close its tab.",
		InputSchema: kit.InputSchema(map[string]any{"page_id": pageID}, []string{"page_id"}),
	}, eps.detach, decodeArgs[detachRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dominject_integrations",
		Description: "List the registered integration names.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, eps.integrations, decodeArgs[struct{}])
}

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}
