package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type statusParams struct{}

func (h *handler) statusHandler(ctx context.Context, req *mcp.CallToolRequest, _ statusParams) (*mcp.CallToolResult, any, error) {
	ctrl := h.holder.Peek()
	if ctrl == nil {
		return textResult("No run has been started.")
	}
	runID, status := ctrl.Status()
	if runID == "" {
		return textResult("No run has been started.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", runID)
	fmt.Fprintf(&b, "Status: %s\n", status)
	if ctrl.Active() {
		fmt.Fprintln(&b, "Active: yes")
	} else {
		fmt.Fprintln(&b, "Active: no")
	}

	if res := ctrl.Result(); res != nil && res.Result != nil {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Last result: %s\n", res.ID)
		fmt.Fprintf(&b, "  RHO: %g\n", res.Result.Rho)
		fmt.Fprintf(&b, "  RDG: %g\n", res.Result.RDG)
		fmt.Fprintf(&b, "  Density cube: %s\n", res.Result.DensCube)
		fmt.Fprintf(&b, "  Gradient cube: %s\n", res.Result.GradCube)
		fmt.Fprintf(&b, "  RHO x RDG data: %s\n", res.Result.XYData)
	}
	if last := ctrl.Last(); last != nil && last.ID == runID && last.FailureKind != "" {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Failure (%s): %s\n", last.FailureKind, last.Failure)
		fmt.Fprintf(&b, "Inspect with nci_inspect(run_id=%q).\n", runID)
	}
	return textResult(b.String())
}

type cancelParams struct{}

func (h *handler) cancelHandler(ctx context.Context, req *mcp.CallToolRequest, _ cancelParams) (*mcp.CallToolResult, any, error) {
	ctrl := h.holder.Peek()
	if ctrl == nil || !ctrl.Active() {
		return textResult("No run in progress.")
	}
	runID, _ := ctrl.Status()
	ctrl.CancelCurrentRun()
	h.logger.Info("run cancelled via MCP", "run_id", runID)
	return textResult(fmt.Sprintf("Cancelling run %s.", runID))
}
