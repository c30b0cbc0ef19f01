// Command languagetool-lsp proxies textDocument/didOpen and
// textDocument/didChange to a LanguageTool HTTP server and republishes its
// findings as textDocument/publishDiagnostics, debounced per document.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lspforge/lsprt/client"
	"github.com/lspforge/lsprt/dispatch"
	"github.com/lspforge/lsprt/pending"
	"github.com/lspforge/lsprt/protocol"
	"github.com/lspforge/lsprt/rpc"
	"github.com/lspforge/lsprt/transport"
)

var (
	documents = make(map[protocol.DocumentURI]protocol.TextDocumentItem)
	docMu     sync.RWMutex
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "languagetool-lsp: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := dispatch.NewTable(nil)
	pendingClients := pending.NewClient(logger)
	sink := client.NewSink(64)

	service := rpc.New(table, pendingClients, logger, func() { logger.Info("languagetool-lsp: session exited") })
	backend := client.New(sink, pendingClients, service.State(), logger)

	table.Register(protocol.MethodInitialize, func(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
		return &protocol.InitializeResult{
			ServerInfo: &protocol.ServerInfo{Name: "languagetool-lsp"},
			Capabilities: protocol.ServerCapabilities{
				TextDocumentSync: &protocol.TextDocumentSyncOptions{OpenClose: true, Change: protocol.SyncFull},
			},
		}, nil
	})
	table.Register(protocol.MethodShutdown, func(ctx context.Context) error { return nil })
	table.Register(protocol.MethodTextDocumentDidOpen, handleDidOpen(backend, logger))
	table.Register(protocol.MethodTextDocumentDidChange, handleDidChange(backend, logger))
	table.Register(protocol.MethodTextDocumentDidClose, handleDidClose(backend, logger))

	logger.Info("languagetool-lsp: starting", zap.String("languagetool_url", languageToolURL))

	loop := transport.New(os.Stdin, os.Stdout, service, sink, logger)
	if err := loop.Run(ctx); err != nil {
		logger.Error("languagetool-lsp: transport loop exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("languagetool-lsp: stopped")
}

// offsetLengthToRange converts a byte offset and length within content to an
// LSP Range, approximating UTF-16 character positions with rune counts.
func offsetLengthToRange(content string, byteOffset, byteLength int) (protocol.Range, error) {
	if byteOffset < 0 || byteLength < 0 || byteOffset+byteLength > len(content) {
		return protocol.Range{}, fmt.Errorf("offset/length (%d, %d) out of bounds for content length %d", byteOffset, byteLength, len(content))
	}

	startLine, startChar := -1, -1
	endLine, endChar := -1, -1
	currentByteOffset := 0
	currentLine := 0

	for i, r := range content {
		if startLine == -1 && currentByteOffset >= byteOffset {
			startLine = currentLine
			lineStartByteOffset := 0
			if currentLine > 0 {
				if lastNewline := strings.LastIndex(content[:i], "\n"); lastNewline != -1 {
					lineStartByteOffset = lastNewline + 1
				}
			}
			startChar = utf8.RuneCountInString(content[lineStartByteOffset:byteOffset])
		}

		if endLine == -1 && currentByteOffset >= byteOffset+byteLength {
			endLine = currentLine
			lineStartByteOffset := 0
			if currentLine > 0 {
				if lastNewline := strings.LastIndex(content[:i], "\n"); lastNewline != -1 {
					lineStartByteOffset = lastNewline + 1
				}
			}
			endChar = utf8.RuneCountInString(content[lineStartByteOffset : byteOffset+byteLength])
			break
		}

		if r == '\n' {
			currentLine++
		}
		currentByteOffset += utf8.RuneLen(r)
	}

	if startLine != -1 && endLine == -1 && currentByteOffset == byteOffset+byteLength {
		endLine = currentLine
		lineStartByteOffset := 0
		if lastNewline := strings.LastIndex(content, "\n"); lastNewline != -1 {
			lineStartByteOffset = lastNewline + 1
		}
		endChar = utf8.RuneCountInString(content[lineStartByteOffset : byteOffset+byteLength])
	}

	if startLine == -1 || endLine == -1 {
		return protocol.Range{}, fmt.Errorf("failed to map offset/length (%d, %d) to line/character", byteOffset, byteLength)
	}

	return protocol.Range{
		Start: protocol.Position{Line: uint(startLine), Character: uint(startChar)},
		End:   protocol.Position{Line: uint(endLine), Character: uint(endChar)},
	}, nil
}
