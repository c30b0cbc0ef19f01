// Command demo-lsp is a minimal showcase server built on the lsprt runtime:
// it answers textDocument/hover with a fixed response and logs document
// sync notifications, demonstrating the wiring a real backend performs
// against dispatch.Table, rpc.Service, client.Client, and transport.Loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lspforge/lsprt/client"
	"github.com/lspforge/lsprt/dispatch"
	"github.com/lspforge/lsprt/pending"
	"github.com/lspforge/lsprt/protocol"
	"github.com/lspforge/lsprt/rpc"
	"github.com/lspforge/lsprt/transport"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "demo-lsp: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := dispatch.NewTable(nil)
	pendingClients := pending.NewClient(logger)
	sink := client.NewSink(64)

	onExit := func() { logger.Info("demo-lsp: session exited") }
	service := rpc.New(table, pendingClients, logger, onExit)
	backend := client.New(sink, pendingClients, service.State(), logger)

	registerHandlers(table, backend, logger)

	loop := transport.New(os.Stdin, os.Stdout, service, sink, logger)
	if err := loop.Run(ctx); err != nil {
		logger.Error("demo-lsp: transport loop exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("demo-lsp: stopped")
}

func registerHandlers(table *dispatch.Table, backend *client.Client, logger *zap.Logger) {
	table.Register(protocol.MethodInitialize, func(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
		logger.Info("initialize", zap.Any("clientInfo", params.ClientInfo))
		return &protocol.InitializeResult{
			ServerInfo: &protocol.ServerInfo{Name: "demo-lsp"},
			Capabilities: protocol.ServerCapabilities{
				TextDocumentSync: &protocol.TextDocumentSyncOptions{OpenClose: true, Change: protocol.SyncFull},
				HoverProvider:    &protocol.HoverOptions{},
			},
		}, nil
	})

	table.Register(protocol.MethodShutdown, func(ctx context.Context) error {
		logger.Info("shutdown")
		return nil
	})

	table.Register(protocol.MethodTextDocumentDidOpen, func(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
		logger.Info("textDocument/didOpen",
			zap.String("uri", string(params.TextDocument.URI)),
			zap.Int("version", params.TextDocument.Version),
			zap.String("languageId", params.TextDocument.LanguageID))
		return backend.LogMessage(ctx, int(protocol.Info), fmt.Sprintf("opened %s", params.TextDocument.URI))
	})

	table.Register(protocol.MethodTextDocumentDidChange, func(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
		logger.Info("textDocument/didChange",
			zap.String("uri", string(params.TextDocument.URI)),
			zap.Int("changes", len(params.ContentChanges)))
		return nil
	})

	table.Register(protocol.MethodTextDocumentHover, func(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
		content := protocol.MarkupContent{
			Kind: protocol.Markdown,
			Value: fmt.Sprintf("## demo-lsp\n\n`%s` at line %d, char %d",
				params.TextDocument.URI, params.Position.Line, params.Position.Character),
		}
		return &protocol.Hover{Contents: content}, nil
	})
}
