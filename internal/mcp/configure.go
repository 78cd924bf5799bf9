package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/insilichem/tangram-nciplot/internal/config"
	"github.com/insilichem/tangram-nciplot/internal/parse"
	"github.com/insilichem/tangram-nciplot/internal/runner"
)

type configureParams struct {
	Binary  string `json:"binary" jsonschema:"absolute path of the NCIPlot executable"`
	DatDir  string `json:"dat_dir" jsonschema:"absolute path of the NCIPlot dat directory"`
	WorkDir string `json:"work_dir,omitempty" jsonschema:"directory for input and output files; defaults to the system temp directory"`
	Timeout string `json:"timeout,omitempty" jsonschema:"maximum run time, e.g. 30m; empty means no limit"`
}

func (h *handler) configureHandler(ctx context.Context, req *mcp.CallToolRequest, params configureParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	next := *h.cfg
	h.mu.Unlock()

	next.Binary = params.Binary
	next.DatDir = params.DatDir
	if params.WorkDir != "" {
		next.WorkDir = params.WorkDir
	}
	if params.Timeout != "" {
		next.RawTimeout = params.Timeout
	}

	if err := config.Save(h.cfgPath, &next); err != nil {
		var cerr *runner.ConfigurationError
		if errors.As(err, &cerr) {
			return errorResult(fmt.Sprintf("Configuration error: %v. Nothing was saved.", err))
		}
		return errorResult(fmt.Sprintf("Failed to save configuration: %v", err))
	}

	h.mu.Lock()
	h.cfg = &next
	h.mu.Unlock()
	// Runs in flight belong to the old installation.
	h.holder.Reset()

	path := h.cfgPath
	if path == "" {
		path, _ = config.DefaultPath()
	}
	h.logger.Info("configuration saved", "path", path, "binary", next.Binary)

	var b strings.Builder
	fmt.Fprintf(&b, "Saved configuration to %s\n", path)
	fmt.Fprintf(&b, "Binary: %s (%s output)\n", next.Binary, parse.DetectVariant(next.Binary))
	fmt.Fprintf(&b, "Dat directory: %s\n", next.DatDir)
	if t := next.Timeout(); t > 0 {
		fmt.Fprintf(&b, "Timeout: %s\n", t)
	}
	return textResult(b.String())
}
