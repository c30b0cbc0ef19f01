package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lspforge/lsprt/client"
	"github.com/lspforge/lsprt/protocol"
)

var (
	debounceTimers = make(map[protocol.DocumentURI]*time.Timer)
	debounceMu     sync.Mutex
	debounceDelay  = 500 * time.Millisecond
)

// handleDidOpen stores the document and triggers an initial check.
func handleDidOpen(backend *client.Client, logger *zap.Logger) func(context.Context, *protocol.DidOpenTextDocumentParams) error {
	return func(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
		docMu.Lock()
		docItem := params.TextDocument
		documents[docItem.URI] = docItem
		docMu.Unlock()
		logger.Info("textDocument/didOpen", zap.String("uri", string(docItem.URI)), zap.Int("version", docItem.Version))

		go checkDocumentAndSendDiagnostics(context.Background(), backend, logger, docItem)
		return nil
	}
}

// handleDidChange updates the document and triggers a debounced check.
func handleDidChange(backend *client.Client, logger *zap.Logger) func(context.Context, *protocol.DidChangeTextDocumentParams) error {
	return func(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
		if len(params.ContentChanges) == 0 {
			return nil
		}
		fullText := params.ContentChanges[0].Text

		docMu.Lock()
		item, ok := documents[params.TextDocument.URI]
		if !ok {
			item = protocol.TextDocumentItem{
				URI:     params.TextDocument.URI,
				Version: params.TextDocument.Version,
				Text:    fullText,
			}
		} else {
			item.Version = params.TextDocument.Version
			item.Text = fullText
		}
		documents[params.TextDocument.URI] = item
		currentDocItem := item
		docMu.Unlock()
		logger.Info("textDocument/didChange", zap.String("uri", string(item.URI)), zap.Int("version", item.Version))

		debounceMu.Lock()
		uri := params.TextDocument.URI
		if timer, exists := debounceTimers[uri]; exists {
			timer.Stop()
		}
		debounceTimers[uri] = time.AfterFunc(debounceDelay, func() {
			debounceMu.Lock()
			delete(debounceTimers, uri)
			debounceMu.Unlock()
			go checkDocumentAndSendDiagnostics(context.Background(), backend, logger, currentDocItem)
		})
		debounceMu.Unlock()

		return nil
	}
}

// handleDidClose removes the document from memory and clears its diagnostics.
func handleDidClose(backend *client.Client, logger *zap.Logger) func(context.Context, *protocol.DidCloseTextDocumentParams) error {
	return func(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
		uri := params.TextDocument.URI
		docMu.Lock()
		delete(documents, uri)
		docMu.Unlock()

		debounceMu.Lock()
		if timer, exists := debounceTimers[uri]; exists {
			timer.Stop()
			delete(debounceTimers, uri)
		}
		debounceMu.Unlock()

		logger.Info("textDocument/didClose", zap.String("uri", string(uri)))
		go func() {
			_ = backend.PublishDiagnostics(context.Background(), protocol.PublishDiagnosticsParams{
				URI:         uri,
				Diagnostics: []protocol.Diagnostic{},
			})
		}()
		return nil
	}
}
