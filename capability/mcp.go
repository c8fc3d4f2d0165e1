package capability

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPProber probes capability servers over the Model Context Protocol's
// streamable HTTP transport: connect, initialize, list tools. Any
// failure along the way counts as a probe failure.
type MCPProber struct {
	clientName    string
	clientVersion string
}

// NewMCPProber creates an MCP prober identifying itself with the given
// client name and version during the initialize handshake.
func NewMCPProber(clientName, clientVersion string) *MCPProber {
	if clientName == "" {
		clientName = "loom"
	}
	if clientVersion == "" {
		clientVersion = "dev"
	}
	return &MCPProber{clientName: clientName, clientVersion: clientVersion}
}

// Probe implements Prober. The caller bounds the probe with ctx.
func (p *MCPProber) Probe(ctx context.Context, srv *Server) ([]Tool, error) {
	c, err := client.NewStreamableHttpClient(srv.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcp client for %s: %w", srv.Endpoint, err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp start %s: %w", srv.Endpoint, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    p.clientName,
		Version: p.clientVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("mcp initialize %s: %w", srv.Endpoint, err)
	}

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp list tools %s: %w", srv.Endpoint, err)
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}
