package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	nciplotmcp "github.com/insilichem/tangram-nciplot/internal/mcp"
)

var (
	mcpHTTPAddr     string
	mcpInstructions bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Serves the nci_run, nci_status, nci_cancel, nci_inspect and nci_configure tools over stdio,
or over streamable HTTP with --http.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mcpInstructions {
			fmt.Fprint(cmd.OutOrStdout(), nciplotmcp.Instructions)
			return nil
		}

		loaded, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := loaded.Config

		pub, closePub, err := newPublisher(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = closePub() }()

		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = loaded.Path
		}
		server := nciplotmcp.NewServer(cfg, newStore(cfg),
			nciplotmcp.WithConfigPath(cfgPath),
			nciplotmcp.WithEvents(pub),
			nciplotmcp.WithLogger(logger),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if mcpHTTPAddr != "" {
			return serveHTTP(ctx, server, mcpHTTPAddr, logger)
		}
		return server.Run(ctx, &mcpsdk.StdioTransport{})
	},
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, logger *slog.Logger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http", "", "serve streamable HTTP on this address (e.g. :9090)")
	mcpCmd.Flags().BoolVar(&mcpInstructions, "instructions", false, "print model instructions and exit")
}
