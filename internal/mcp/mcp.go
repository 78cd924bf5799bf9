// Package mcp provides the NCIPlot MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	_ "embed"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	nciplot "github.com/insilichem/tangram-nciplot"
	"github.com/insilichem/tangram-nciplot/internal/config"
	"github.com/insilichem/tangram-nciplot/internal/report"
	"github.com/insilichem/tangram-nciplot/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	holder  *workflow.Holder
	store   report.Store
	events  workflow.Publisher
	logger  *slog.Logger
	cfgPath string // where nci_configure saves; empty means config.DefaultPath

	mu  sync.Mutex
	cfg *config.Config
}

// NewServer creates an MCP server with all NCIPlot tools registered.
// Runs are recorded in store so nci_inspect can load them later.
func NewServer(cfg *config.Config, store report.Store, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := so.logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{
		store:   store,
		events:  so.events,
		logger:  logger,
		cfgPath: so.configPath,
		cfg:     cfg,
	}
	h.holder = workflow.NewHolder(h.newController)

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "nciplot", Version: nciplot.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "nci_run",
		Description: `Run NCIPlot on one or more geometries and report the non-covalent interaction surfaces.

Pass XYZ file paths, inline molecules, or atom selections; the latter two are written to temporary XYZ files. Starting a run
cancels any run in progress. Returns immediately with a run_id unless wait=true, in which case the
result (RHO and RDG cutoffs plus the density cube, gradient cube and RHO x RDG data paths) is returned.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "nci_status",
		Description: "Report the status of the latest run and the last successful result.",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "nci_cancel",
		Description: "Cancel the run in progress, if any. Cancelling twice or after completion is harmless.",
	}, h.cancelHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "nci_inspect",
		Description: `Show the stored record of a run by run_id.

Use raw=true to include every line NCIPlot printed, e.g. to diagnose a run whose output could not be read.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "nci_configure",
		Description: `Set the NCIPlot binary and dat directory, validate them and save the configuration.

The binary name selects the output dialect: names containing "cuda" are read as the CUDA build.`,
	}, h.configureHandler)

	return s
}

// ServerOption configures the NCIPlot MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	configPath string
	events     workflow.Publisher
	logger     *slog.Logger
}

// WithConfigPath sets the file nci_configure writes to.
func WithConfigPath(path string) ServerOption {
	return func(o *serverOptions) {
		o.configPath = path
	}
}

// WithEvents publishes every finished run to p.
func WithEvents(p workflow.Publisher) ServerOption {
	return func(o *serverOptions) {
		o.events = p
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

func (h *handler) config() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

func (h *handler) newController() (*workflow.Controller, error) {
	return workflow.FromConfig(h.config(), workflow.Options{
		Store:  h.store,
		Events: h.events,
		Logger: h.logger,
	})
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
