package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from nci_run or nci_status"`
	Raw   bool   `json:"raw,omitempty" jsonschema:"include every line NCIPlot printed"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	rec, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	var b strings.Builder
	b.WriteString(formatRecord(rec))
	if rec.InputPath != "" {
		fmt.Fprintf(&b, "Input file: %s\n", rec.InputPath)
	}
	if params.Raw {
		lines := rec.Output()
		fmt.Fprintln(&b)
		if len(lines) == 0 {
			fmt.Fprintln(&b, "Output: (none captured)")
		} else {
			fmt.Fprintf(&b, "Output (%d lines):\n", len(lines))
			for _, line := range lines {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return textResult(b.String())
}
