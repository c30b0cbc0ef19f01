package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lspforge/lsprt/client"
	"github.com/lspforge/lsprt/protocol"
)

var (
	languageToolURL     = getEnv("LANGUAGETOOL_URL", "http://localhost:8081/v2/check")
	languageToolTimeout = 10 * time.Second
	defaultLanguage     = "en-US"
)

// LanguageToolResponse mirrors the LanguageTool HTTP API's /v2/check response.
// See https://languagetool.org/http-api/swagger-ui/#!/default/post_check
type LanguageToolResponse struct {
	Software SoftwareInfo `json:"software"`
	Language LanguageInfo `json:"language"`
	Matches  []Match      `json:"matches"`
}

type SoftwareInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	BuildDate  string `json:"buildDate"`
	APIVersion int    `json:"apiVersion"`
	Status     string `json:"status"`
}

type LanguageInfo struct {
	Name             string               `json:"name"`
	Code             string               `json:"code"`
	DetectedLanguage DetectedLanguageInfo `json:"detectedLanguage"`
}

type DetectedLanguageInfo struct {
	Name       string  `json:"name"`
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

type Match struct {
	Message      string        `json:"message"`
	ShortMessage string        `json:"shortMessage"`
	Replacements []Replacement `json:"replacements"`
	Offset       int           `json:"offset"`
	Length       int           `json:"length"`
	Context      ContextInfo   `json:"context"`
	Sentence     string        `json:"sentence"`
	Type         TypeInfo      `json:"type"`
	Rule         RuleInfo      `json:"rule"`
}

type Replacement struct {
	Value string `json:"value"`
}

type ContextInfo struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

type TypeInfo struct {
	TypeName string `json:"typeName"`
}

type RuleInfo struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	IssueType   string       `json:"issueType"`
	Category    CategoryInfo `json:"category"`
}

type CategoryInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// callLanguageTool sends text to the LT API and returns the parsed response.
func callLanguageTool(ctx context.Context, text string, language string) (*LanguageToolResponse, error) {
	if text == "" {
		return &LanguageToolResponse{Matches: []Match{}}, nil
	}

	apiURL := languageToolURL
	if !strings.HasSuffix(apiURL, "/check") {
		switch {
		case strings.HasSuffix(apiURL, "/v2"):
			apiURL += "/check"
		case strings.HasSuffix(apiURL, "/v2/"):
			apiURL += "check"
		default:
			apiURL = strings.TrimSuffix(apiURL, "/") + "/v2/check"
		}
	}

	formData := url.Values{}
	formData.Set("text", text)
	formData.Set("language", language)

	reqCtx, cancel := context.WithTimeout(ctx, languageToolTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", apiURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create languagetool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("languagetool request timed out after %v", languageToolTimeout)
		}
		return nil, fmt.Errorf("languagetool request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read languagetool response body: %w", readErr)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("languagetool request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var ltResponse LanguageToolResponse
	if err := json.Unmarshal(bodyBytes, &ltResponse); err != nil {
		return nil, fmt.Errorf("failed to decode languagetool JSON response: %w. Body: %s", err, string(bodyBytes))
	}

	return &ltResponse, nil
}

// convertMatchesToDiagnostics converts LanguageTool matches to LSP diagnostics.
func convertMatchesToDiagnostics(logger *zap.Logger, content string, matches []Match) []protocol.Diagnostic {
	diagnostics := make([]protocol.Diagnostic, 0, len(matches))

	for _, match := range matches {
		rng, err := offsetLengthToRange(content, match.Offset, match.Length)
		if err != nil {
			logger.Warn("languagetool: range conversion failed", zap.String("match", match.Message), zap.Error(err))
			continue
		}

		severity := protocol.SeverityWarning
		if strings.Contains(strings.ToLower(match.Rule.Category.ID), "error") ||
			strings.Contains(strings.ToLower(match.Rule.IssueType), "error") ||
			match.Rule.ID == "MORFOLOGIK_RULE_EN_US" {
			severity = protocol.SeverityError
		} else if match.Rule.Category.ID == "STYLE" || match.Rule.Category.ID == "TYPOGRAPHY" {
			severity = protocol.SeverityInfo
		}

		codeJSON, err := json.Marshal(match.Rule.ID)
		if err != nil {
			codeJSON = json.RawMessage("null")
		}

		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    rng,
			Severity: severity,
			Code:     codeJSON,
			Source:   fmt.Sprintf("languagetool (%s)", match.Rule.Category.Name),
			Message:  match.Message,
		})
	}

	return diagnostics
}

// checkDocumentAndSendDiagnostics performs the core logic: call API, convert, publish.
func checkDocumentAndSendDiagnostics(ctx context.Context, backend *client.Client, logger *zap.Logger, docItem protocol.TextDocumentItem) {
	lang := defaultLanguage

	ltResponse, err := callLanguageTool(ctx, docItem.Text, lang)
	if err != nil {
		errMsg := fmt.Sprintf("LanguageTool check failed for %s: %v", docItem.URI, err)
		logger.Warn("languagetool: check failed", zap.String("uri", string(docItem.URI)), zap.Error(err))
		_ = backend.ShowMessage(ctx, int(protocol.Error), errMsg)
		_ = backend.PublishDiagnostics(ctx, protocol.PublishDiagnosticsParams{URI: docItem.URI, Diagnostics: []protocol.Diagnostic{}})
		return
	}

	diagnostics := convertMatchesToDiagnostics(logger, docItem.Text, ltResponse.Matches)
	_ = backend.PublishDiagnostics(ctx, protocol.PublishDiagnosticsParams{URI: docItem.URI, Diagnostics: diagnostics})
}
