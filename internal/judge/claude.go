// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package judge provides relevance predicates for gap analysis.
//
// ClaudeJudge asks the Claude Messages API whether a section's evidence
// answers a key question. Cached memoizes any judge by question and
// evidence fingerprints so repeated rounds over unchanged evidence give
// the same answer without another call.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// judgePromptTmpl is the prompt sent for each question. Items are listed
// with their ids so the model can name the ones that support an answer.
var judgePromptTmpl = template.Must(template.New("judge").Parse(`You are reviewing evidence collected for one section of a research report.

Decide whether the evidence below directly answers the question. Evidence that is only loosely related to the topic does not count.

Question: {{.Question}}

Evidence:
{{range .Items}}- id: {{.ID}}
  title: {{.Title}}{{if .Year}} ({{.Year}}){{end}}
  quote: {{.Quote}}
{{end}}
Respond with a JSON object with these fields:
- covered: true if the evidence answers the question, false otherwise
- supporting: the ids of the evidence items that answer it (empty when covered is false)
- reason: one short sentence

Do not include any text outside the JSON object.

Example response:
{"covered": true, "supporting": ["ev-3f2a9c01b7de"], "reason": "The cohort study reports adult prevalence."}
`))

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// backoffBase controls the base duration for exponential backoff between
// failed judge calls. Tests override this to avoid real sleeps.
var backoffBase = time.Second

const defaultMaxItems = 20

// Verdict is the model's answer for one question.
type Verdict struct {
	Covered    bool     `json:"covered"`
	Supporting []string `json:"supporting"`
	Reason     string   `json:"reason"`
}

// ClaudeJudge decides question coverage with the Claude Messages API.
type ClaudeJudge struct {
	APIKey     string
	Model      string
	Client     *http.Client
	MaxRetries int
	// MaxItems bounds how many items are shown per question; the first
	// MaxItems in section order are used.
	MaxItems int
	Logger   *zap.Logger
}

// NewClaudeJudge returns a judge configured from cfg. It fails when no
// API key is set.
func NewClaudeJudge(cfg types.AIConfig, client *http.Client, logger *zap.Logger) (*ClaudeJudge, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("claude judge: no API key (set judge.api_key or .secrets/anthropic-api-key)")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeJudge{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Client:     client,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	}, nil
}

// Covered reports whether items answer question. A section without items
// never covers a question and costs no API call. A positive verdict only
// counts when it names at least one of the items shown.
func (j *ClaudeJudge) Covered(ctx context.Context, question string, items []types.EvidenceItem) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	shown := items[:min(len(items), j.maxItems())]
	v, err := j.Assess(ctx, question, shown)
	if err != nil {
		return false, err
	}
	if !v.Covered {
		return false, nil
	}
	known := make(map[string]bool, len(shown))
	for _, it := range shown {
		known[it.ID] = true
	}
	for _, id := range v.Supporting {
		if known[id] {
			return true, nil
		}
	}
	return false, nil
}

// Assess asks the model about question and returns its verdict, retrying
// failed calls with exponential backoff.
func (j *ClaudeJudge) Assess(ctx context.Context, question string, items []types.EvidenceItem) (Verdict, error) {
	prompt, err := renderPrompt(question, items)
	if err != nil {
		return Verdict{}, fmt.Errorf("rendering prompt: %w", err)
	}

	maxRetries := j.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			j.logger().Debug("retrying judge call",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return Verdict{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		v, err := j.call(ctx, prompt)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return Verdict{}, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (j *ClaudeJudge) call(ctx context.Context, prompt string) (Verdict, error) {
	bodyBytes, err := json.Marshal(claudeRequest{
		Model:     j.Model,
		MaxTokens: 512,
		Messages:  []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Verdict{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", j.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return Verdict{}, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Verdict{}, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return Verdict{}, fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		return parseVerdict(block.Text)
	}
	return Verdict{}, errors.New("no text content in Claude API response")
}

// parseVerdict decodes the JSON object in text, ignoring any code fence
// or prose around it.
func parseVerdict(text string) (Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("no JSON object in judge response %q", text)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Verdict{}, fmt.Errorf("parsing judge response JSON: %w", err)
	}
	return v, nil
}

// renderPrompt executes the judge prompt template.
func renderPrompt(question string, items []types.EvidenceItem) (string, error) {
	var buf bytes.Buffer
	err := judgePromptTmpl.Execute(&buf, struct {
		Question string
		Items    []types.EvidenceItem
	}{Question: question, Items: items})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (j *ClaudeJudge) maxItems() int {
	if j.MaxItems > 0 {
		return j.MaxItems
	}
	return defaultMaxItems
}

func (j *ClaudeJudge) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}
