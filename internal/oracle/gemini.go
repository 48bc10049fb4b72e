package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"logsight-backend/internal/dto"
)

type geminiPart struct {
	Text string `json:"text"`
}
type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}
type geminiRequestBody struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiOracle struct {
	apiKey     string
	httpClient *http.Client
	modelID    string
}

// NewGeminiOracle returns an Oracle backed by the Gemini generative API.
func NewGeminiOracle(apiKey, modelID string) Oracle {
	if modelID == "" {
		modelID = "gemini-1.5-flash-latest"
	}
	return &geminiOracle{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		modelID: modelID,
	}
}

func (o *geminiOracle) Decide(ctx context.Context, history []dto.ConversationTurn, tools []ToolSpec) (*Decision, error) {
	log.Info().Int("history_len", len(history)).Msg("Gemini Oracle: deciding next step")

	requestBody := geminiRequestBody{Contents: buildGeminiContents(history, tools)}
	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal Gemini request body")
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	respBodyBytes, err := o.callGeminiAPI(ctx, bodyBytes)
	if err != nil {
		return nil, err
	}
	log.Debug().Bytes("raw_response", respBodyBytes).Msg("Gemini Oracle: received raw response")

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBodyBytes, &geminiResp); err != nil {
		log.Error().Err(err).Bytes("response_body", respBodyBytes).Msg("Failed to unmarshal Gemini API response")
		return nil, fmt.Errorf("failed to parse Gemini response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		log.Error().Interface("gemini_response", geminiResp).Msg("Gemini response has no candidates or parts")
		return nil, errors.New("received empty or invalid response structure from Gemini")
	}

	generatedText := geminiResp.Candidates[0].Content.Parts[0].Text
	log.Debug().Str("generated_text", generatedText).Msg("Gemini Oracle: extracted generated text")

	cleanedJSON := cleanJSONOutput(generatedText)
	if cleanedJSON == "" {
		// Treat a non-JSON reply as a final natural-language answer.
		return &Decision{Answer: strings.TrimSpace(generatedText)}, nil
	}

	var decision Decision
	if err := json.Unmarshal([]byte(cleanedJSON), &decision); err != nil {
		log.Error().Err(err).Str("cleaned_json", cleanedJSON).Msg("Failed to unmarshal decision from Gemini response")
		return nil, fmt.Errorf("failed to parse structured decision: %w", err)
	}

	log.Info().
		Bool("has_tool", decision.Tool != nil).
		Msg("Gemini Oracle: decision ready")
	return &decision, nil
}

func (o *geminiOracle) callGeminiAPI(ctx context.Context, bodyBytes []byte) ([]byte, error) {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", o.modelID, o.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(bodyBytes))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Gemini HTTP request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("Gemini HTTP request failed")
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read Gemini response body")
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status_code", resp.StatusCode).Bytes("response_body", respBodyBytes).Msg("Gemini API returned non-OK status")
		return nil, fmt.Errorf("gemini API error: status code %d", resp.StatusCode)
	}

	return respBodyBytes, nil
}

// cleanJSONOutput extracts the outermost JSON object from raw model text,
// stripping any markdown fences or prose around it.
func cleanJSONOutput(raw string) string {
	startIndex := strings.Index(raw, "{")
	if startIndex == -1 {
		return ""
	}

	endIndex := strings.LastIndex(raw, "}")
	if endIndex == -1 || endIndex < startIndex {
		return ""
	}

	potentialJSON := raw[startIndex : endIndex+1]

	var js map[string]any
	if json.Unmarshal([]byte(potentialJSON), &js) == nil {
		return potentialJSON
	}

	log.Warn().Str("potential_json", potentialJSON).Msg("Could not validate potential JSON extracted from oracle response")
	return ""
}

func buildGeminiContents(history []dto.ConversationTurn, tools []ToolSpec) []geminiContent {
	contents := make([]geminiContent, 0, len(history)+1)
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: buildSystemPrompt(tools)}},
	})

	for _, turn := range history {
		role := turn.Role
		// Gemini only accepts "user" and "model" roles; tool results go
		// back as user content.
		if role == "tool" {
			role = "user"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}

	return contents
}

func buildSystemPrompt(tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString(`You are an experienced on-device (Android/Linux) log analysis expert.
You investigate faults by retrieving logs through tools, reading the results, and reasoning about root causes.

Your workflow:
1. Understand the user's fault description (symptoms, time of occurrence).
2. Retrieve relevant logs with the tools below (time range, keywords, module).
3. Locate the key error logs and stack traces.
4. Inspect surrounding context and infer the root cause.
5. Give a clear conclusion and suggestions. If the root cause cannot be determined, say so explicitly instead of inventing one.

Available tools:
`)
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		for _, p := range t.Params {
			required := "optional"
			if p.Required {
				required = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", p.Name, p.Type, required, p.Description)
		}
	}
	b.WriteString(`
Respond with ONLY a valid JSON object, without markdown fences, in one of two shapes:
To call a tool: {"tool": {"name": "<tool name>", "args": {<parameter>: <value>}}}
To give the final answer: {"answer": "<your complete analysis>"}
`)
	return b.String()
}
