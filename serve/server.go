// Package serve exposes the anonymization engine over the Model
// Context Protocol so that agent tooling can query the PII inventory,
// check re-identification risk, and preview transforms without linking
// the library directly.
package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/datagouv-tools/anonymize-go/core"
)

// Server wraps an MCP stdio server around a loaded metadata registry.
// The salt is held in memory only and is never echoed in any tool
// result.
type Server struct {
	registry *core.Registry
	salt     string
	mcp      *server.MCPServer
}

// NewServer builds the tool server for a registry. The registry must
// already have passed validation.
func NewServer(registry *core.Registry, salt string) *Server {
	s := &Server{
		registry: registry,
		salt:     salt,
		mcp:      server.NewMCPServer("anonymize-go", "1.0.0"),
	}

	s.mcp.AddTool(mcp.NewTool("pii_report",
		mcp.WithDescription("Return the PII inventory report for the loaded metadata registry as JSON"),
	), s.handlePIIReport)

	s.mcp.AddTool(mcp.NewTool("k_anonymity_check",
		mcp.WithDescription("Compute the k-anonymity breakdown of a small inline dataset"),
		mcp.WithString("quasi_identifiers",
			mcp.Required(),
			mcp.Description("Comma-separated quasi-identifier column names"),
		),
		mcp.WithString("rows",
			mcp.Required(),
			mcp.Description("JSON array of objects, one per row, keyed by column name"),
		),
		mcp.WithNumber("k",
			mcp.Description("Minimum acceptable group size, defaults to 5"),
		),
	), s.handleKAnonymityCheck)

	s.mcp.AddTool(mcp.NewTool("anonymize_preview",
		mcp.WithDescription("Apply the registered anonymization rule of a column to a single value"),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Table the column is registered under"),
		),
		mcp.WithString("column",
			mcp.Required(),
			mcp.Description("Column whose rule should be applied"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("Raw value to transform"),
		),
	), s.handleAnonymizePreview)

	return s
}

// ServeStdio blocks serving MCP requests over stdin/stdout until the
// client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handlePIIReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := core.BuildReport(s.registry)

	var buf strings.Builder
	if err := report.WriteJSON(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize report: %w", err)
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) handleKAnonymityCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	qiRaw, _ := args["quasi_identifiers"].(string)
	rowsRaw, _ := args["rows"].(string)
	if qiRaw == "" || rowsRaw == "" {
		return mcp.NewToolResultError("quasi_identifiers and rows are required"), nil
	}

	k := 5
	if kRaw, ok := args["k"].(float64); ok && kRaw > 0 {
		k = int(kRaw)
	}

	quasiIDs := strings.Split(qiRaw, ",")
	for i := range quasiIDs {
		quasiIDs[i] = strings.TrimSpace(quasiIDs[i])
	}

	ds, err := datasetFromJSON(rowsRaw, quasiIDs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := core.NewAnalyzer(quasiIDs, k).Analyze(ctx, ds)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var buf strings.Builder
	if err := result.WriteJSON(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) handleAnonymizePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	table, _ := args["table"].(string)
	column, _ := args["column"].(string)
	value, _ := args["value"].(string)
	if table == "" || column == "" {
		return mcp.NewToolResultError("table and column are required"), nil
	}

	meta, ok := s.registry.Lookup(table, column)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no metadata registered for %s.%s", table, column)), nil
	}

	rule, err := core.Resolve(meta, s.salt)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out := rule.Apply(core.Text(value))
	if out.IsNull() {
		return mcp.NewToolResultText("null"), nil
	}
	return mcp.NewToolResultText(out.String()), nil
}

// datasetFromJSON decodes a JSON array of row objects into a dataset
// holding just the quasi-identifier columns. Missing keys become
// nulls, numeric JSON values stay numeric.
func datasetFromJSON(raw string, columns []string) (*core.Dataset, error) {
	var rows []map[string]any
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("rows is not a JSON array of objects: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows is empty")
	}

	ds := core.NewDataset("inline")
	for _, name := range columns {
		values := make([]core.Value, len(rows))
		for i, row := range rows {
			switch v := row[name].(type) {
			case nil:
				values[i] = core.Null()
			case float64:
				values[i] = core.Number(v)
			case string:
				values[i] = core.Text(v)
			case bool:
				values[i] = core.Text(fmt.Sprintf("%t", v))
			default:
				return nil, fmt.Errorf("row %d: unsupported value type for column %q", i, name)
			}
		}
		if err := ds.AddColumn(name, values); err != nil {
			return nil, err
		}
	}
	return ds, nil
}
