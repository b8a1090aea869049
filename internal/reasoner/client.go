package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

// Config holds reasoner gateway configuration.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // e.g. https://api.together.xyz/v1
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to an OpenAI-compatible chat-completions endpoint. It is safe
// for concurrent use; all callers share one pooled HTTP connection pool.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a reasoner client.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoner API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "mistralai/Mistral-7B-Instruct-v0.2"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.together.xyz/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("component", "reasoner").Logger(),
	}, nil
}

// Model returns the configured model name, surfaced in /health.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Close releases pooled connections. Invoked on shutdown.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Stop         []string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stop        []string      `json:"stop"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a completion request and returns the model's response text.
// 429 responses back off exponentially per attempt, 5xx pause briefly, other
// HTTP errors fail fast. Transport errors pause briefly and retry.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = 512
	}

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	stop := req.Stop
	if stop == nil {
		stop = []string{}
	}
	payload, err := json.Marshal(chatPayload{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        stop,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		text, status, err := c.post(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err

		c.log.Warn().
			Int("attempt", attempt+1).
			Int("status", status).
			Err(err).
			Msg("Reasoner request failed")

		switch {
		case status == http.StatusTooManyRequests:
			if err := sleepCtx(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return "", err
			}
		case status >= 500, status == 0: // server error or transport failure
			if err := sleepCtx(ctx, time.Second); err != nil {
				return "", err
			}
		default:
			return "", err
		}
	}

	return "", fmt.Errorf("reasoner request failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// post performs one HTTP round trip. The returned status is 0 when the
// request never reached the server.
func (c *Client) post(ctx context.Context, payload []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("reasoner connection error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read reasoner response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("reasoner returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to decode reasoner response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", resp.StatusCode, fmt.Errorf("reasoner response contained no choices")
	}

	return parsed.Choices[0].Message.Content, resp.StatusCode, nil
}

// AnalyzeRegulatoryImpact is the Oracle call: it asks the model whether the
// update text mandates a concrete change to the current ruleset and returns a
// structured proposal. A response that cannot be parsed yields a
// zero-confidence, not-relevant proposal rather than an error.
func (c *Client) AnalyzeRegulatoryImpact(ctx context.Context, updateText string, currentRules map[string]interface{}, jurisdiction, targetFile string) (*ChangeProposal, error) {
	rulesJSON, err := json.MarshalIndent(currentRules, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode current rules: %w", err)
	}

	prompt := fmt.Sprintf(regulatoryImpactPrompt, rulesJSON, updateText)

	responseText, err := c.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   768,
		Temperature: 0.0, // determinism priority on the oracle path
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		IsRelevant              bool        `json:"is_relevant"`
		Confidence              float64     `json:"confidence"`
		Summary                 string      `json:"summary"`
		TargetFieldPath         string      `json:"target_field_path"`
		OldValue                interface{} `json:"old_value"`
		NewValue                interface{} `json:"new_value"`
		Reasoning               string      `json:"reasoning"`
		EffectiveDate           string      `json:"effective_date"`
		RequiresImmediateAction bool        `json:"requires_immediate_action"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(responseText)), &raw); err != nil {
		c.log.Error().
			Str("response", truncate(responseText, 500)).
			Err(err).
			Msg("Failed to parse regulatory impact response")
		return &ChangeProposal{
			IsRelevant: false,
			Confidence: 0.0,
			Summary:    "Parse error",
			TargetFile: targetFile,
			Reasoning:  fmt.Sprintf("parse error: %v", err),
			SourceText: truncate(updateText, 500),
		}, nil
	}

	return &ChangeProposal{
		IsRelevant:              raw.IsRelevant,
		Confidence:              raw.Confidence,
		Summary:                 raw.Summary,
		TargetFile:              targetFile,
		FieldPath:               raw.TargetFieldPath,
		OldValue:                raw.OldValue,
		NewValue:                raw.NewValue,
		Reasoning:               raw.Reasoning,
		SourceText:              truncate(updateText, 500),
		EffectiveDate:           raw.EffectiveDate,
		RequiresImmediateAction: raw.RequiresImmediateAction,
	}, nil
}

// ClassifyJurisdiction classifies an investor document. A malformed response
// degrades to an UNKNOWN/retail result at zero confidence.
func (c *Client) ClassifyJurisdiction(ctx context.Context, documentText, documentType string) (*JurisdictionResult, error) {
	prompt := fmt.Sprintf(jurisdictionClassificationPrompt, documentType, documentText)

	responseText, err := c.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   256,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var result JurisdictionResult
	if err := json.Unmarshal([]byte(stripCodeFences(responseText)), &result); err != nil {
		c.log.Error().
			Str("response", truncate(responseText, 500)).
			Err(err).
			Msg("Failed to parse jurisdiction response")
		return &JurisdictionResult{
			Jurisdiction:           "UNKNOWN",
			EntityType:             "individual",
			InvestorClassification: "retail",
			ApplicableRegulations:  []string{},
			Confidence:             0.0,
			Reasoning:              "Failed to parse reasoner response",
		}, nil
	}

	if result.Jurisdiction == "" {
		result.Jurisdiction = "UNKNOWN"
	}
	if result.EntityType == "" {
		result.EntityType = "individual"
	}
	if result.InvestorClassification == "" {
		result.InvestorClassification = "retail"
	}
	return &result, nil
}

// ResolveConflicts detects and resolves regulatory conflicts across
// jurisdictions. A malformed response degrades to a conservative combined
// ruleset at zero confidence.
func (c *Client) ResolveConflicts(ctx context.Context, jurisdictions []string, assetType string, investorTypes []string, regulatoryContext, rulesetVersion string) (*ConflictResult, error) {
	issuer := "US"
	if len(jurisdictions) > 0 {
		issuer = jurisdictions[0]
	}
	prompt := fmt.Sprintf(conflictResolutionPrompt,
		assetType,
		issuer,
		strings.Join(jurisdictions, ", "),
		strings.Join(investorTypes, ", "),
		regulatoryContext,
	)

	responseText, err := c.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   1024,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		HasConflicts bool `json:"has_conflicts"`
		Conflicts    []struct {
			Type          string   `json:"type"`
			Jurisdictions []string `json:"jurisdictions"`
			Description   string   `json:"description"`
			RuleA         string   `json:"rule_a"`
			RuleB         string   `json:"rule_b"`
		} `json:"conflicts"`
		Resolutions []struct {
			ConflictType        string `json:"conflict_type"`
			Strategy            string `json:"strategy"`
			ResolvedRequirement string `json:"resolved_requirement"`
			Rationale           string `json:"rationale"`
		} `json:"resolutions"`
		CombinedRequirements map[string]interface{} `json:"combined_requirements"`
		Confidence           float64                `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(responseText)), &raw); err != nil {
		c.log.Error().
			Str("response", truncate(responseText, 500)).
			Err(err).
			Msg("Failed to parse conflict response")
		return &ConflictResult{
			HasConflicts: true,
			Conflicts:    []Conflict{},
			Resolutions:  []Resolution{},
			CombinedRequirements: map[string]interface{}{
				"accredited_only":        true,
				"max_investors":          99,
				"lockup_days":            365,
				"requires_manual_review": true,
			},
			Confidence:     0.0,
			RulesetVersion: rulesetVersion,
		}, nil
	}

	result := &ConflictResult{
		HasConflicts:         raw.HasConflicts,
		Conflicts:            make([]Conflict, 0, len(raw.Conflicts)),
		Resolutions:          make([]Resolution, 0, len(raw.Resolutions)),
		CombinedRequirements: raw.CombinedRequirements,
		Confidence:           raw.Confidence,
		RulesetVersion:       rulesetVersion,
	}
	if result.CombinedRequirements == nil {
		result.CombinedRequirements = map[string]interface{}{}
	}
	for _, conf := range raw.Conflicts {
		result.Conflicts = append(result.Conflicts, Conflict{
			ConflictType:  classifyConflictType(conf.Type),
			Jurisdictions: conf.Jurisdictions,
			Description:   conf.Description,
			RuleA:         conf.RuleA,
			RuleB:         conf.RuleB,
		})
	}
	for _, res := range raw.Resolutions {
		strategy := res.Strategy
		if strategy == "" {
			strategy = "apply_strictest"
		}
		result.Resolutions = append(result.Resolutions, Resolution{
			ConflictType:        classifyConflictType(res.ConflictType),
			Strategy:            strategy,
			ResolvedRequirement: res.ResolvedRequirement,
			Rationale:           res.Rationale,
		})
	}
	return result, nil
}

// TokenRules describes a proposed on-platform token configuration.
type TokenRules struct {
	AssetType            string   `json:"asset_type"`
	Jurisdictions        []string `json:"jurisdictions"`
	AccreditedOnly       bool     `json:"accredited_only"`
	MaxInvestors         int      `json:"max_investors"`
	LockupDays           int      `json:"lockup_days"`
	MinInvestment        float64  `json:"min_investment"`
	AllowedJurisdictions []string `json:"allowed_jurisdictions"`
}

// ValidateTokenCompliance checks proposed token rules against the regulatory
// context. Parse failures degrade to invalid-with-manual-review.
func (c *Client) ValidateTokenCompliance(ctx context.Context, rules TokenRules, regulatoryContext string) (*TokenValidationResult, error) {
	prompt := fmt.Sprintf(tokenValidationPrompt,
		rules.AssetType,
		strings.Join(rules.Jurisdictions, ", "),
		rules.AccreditedOnly,
		rules.MaxInvestors,
		rules.LockupDays,
		rules.MinInvestment,
		strings.Join(rules.AllowedJurisdictions, ", "),
		regulatoryContext,
	)

	responseText, err := c.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   768,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var result TokenValidationResult
	if err := json.Unmarshal([]byte(stripCodeFences(responseText)), &result); err != nil {
		c.log.Error().
			Str("response", truncate(responseText, 500)).
			Err(err).
			Msg("Failed to parse token validation response")
		return &TokenValidationResult{
			Valid: false,
			Violations: []TokenRuleViolation{{
				Rule:     "response",
				Issue:    "validator response could not be parsed, manual review required",
				Severity: "warning",
			}},
			Suggestions: []TokenRuleSuggestion{},
			Confidence:  0.0,
		}, nil
	}
	if result.Violations == nil {
		result.Violations = []TokenRuleViolation{}
	}
	if result.Suggestions == nil {
		result.Suggestions = []TokenRuleSuggestion{}
	}
	return &result, nil
}

// stripCodeFences removes leading/trailing markdown fences the model
// sometimes wraps around JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sleepCtx sleeps unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
