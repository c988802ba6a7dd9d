// Package assistant turns free-text questions into one of the supported card lookups
// by asking a chat-completion model for a small JSON classification.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// RequestType is the kind of lookup a question asks for
type RequestType string

const (
	RequestPokemon   RequestType = "pokemon"
	RequestSet       RequestType = "set"
	RequestTotalCost RequestType = "total_cost"
	RequestTopCards  RequestType = "top_cards"
)

// Valid reports whether t is one of the four supported request types
func (t RequestType) Valid() bool {
	switch t {
	case RequestPokemon, RequestSet, RequestTotalCost, RequestTopCards:
		return true
	}
	return false
}

// UnrecognisedMessage is shown whenever the model's answer cannot be used
const UnrecognisedMessage = "Sorry, I couldn't understand that request. Try asking about a Pokémon, a set, the total value of a set, or the top cards in a set."

// ErrUnrecognised is returned when the model output is missing, malformed or out of range
var ErrUnrecognised = errors.New(UnrecognisedMessage)

// TransportError is a failed or non-200 exchange with the chat-completion API
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Error contacting the assistant: %v", e.Err)
	}
	return fmt.Sprintf("Error: %d - %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Intent is a validated classification
type Intent struct {
	RequestType RequestType `json:"request_type"`
	SearchTerm  string      `json:"search_term"`
}

// Doer sends one request; *fasthttp.Client satisfies it
type Doer interface {
	DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error
}

// Config describes the chat-completion endpoint
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Classifier asks a language model what a question is about
type Classifier struct {
	http   Doer
	cfg    Config
	logger *zap.Logger
}

// NewClassifier creates a classifier. A nil doer uses a fresh fasthttp.Client.
func NewClassifier(cfg Config, doer Doer, logger *zap.Logger) *Classifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if doer == nil {
		doer = &fasthttp.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{http: doer, cfg: cfg, logger: logger}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends the question to the model and validates its answer. The returned error
// is always either ErrUnrecognised or a *TransportError, and its message is fit to show
// to the user as is.
func (c *Classifier) Classify(ctx context.Context, question string) (Intent, error) {
	if strings.TrimSpace(question) == "" {
		return Intent{}, ErrUnrecognised
	}
	content, err := c.complete(ctx, buildPrompt(question))
	if err != nil {
		c.logger.Warn("classification request failed", zap.Error(err))
		return Intent{}, err
	}
	intent, err := ParseIntent(content)
	if err != nil {
		c.logger.Info("unusable classification", zap.String("response", content))
		return Intent{}, err
	}
	c.logger.Debug("classified question",
		zap.String("request_type", string(intent.RequestType)),
		zap.String("search_term", intent.SearchTerm))
	return intent, nil
}

func (c *Classifier) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", &TransportError{Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.cfg.BaseURL + "/chat/completions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.SetBody(payload)

	timeout := c.cfg.Timeout
	if d, ok := ctx.Deadline(); ok {
		if left := time.Until(d); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Err: err}
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return "", &TransportError{Err: err}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", &TransportError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", ErrUnrecognised
	}
	return parsed.Choices[0].Message.Content, nil
}

// ParseIntent pulls the first balanced JSON object out of a model response and validates it
func ParseIntent(content string) (Intent, error) {
	obj := extractJSONObject(content)
	if obj == "" {
		return Intent{}, ErrUnrecognised
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return Intent{}, ErrUnrecognised
	}
	rt, ok := raw["request_type"].(string)
	if !ok {
		return Intent{}, ErrUnrecognised
	}
	term, ok := raw["search_term"].(string)
	if !ok || strings.TrimSpace(term) == "" {
		return Intent{}, ErrUnrecognised
	}
	intent := Intent{
		RequestType: RequestType(strings.ToLower(strings.TrimSpace(rt))),
		SearchTerm:  strings.TrimSpace(term),
	}
	if !intent.RequestType.Valid() {
		return Intent{}, ErrUnrecognised
	}
	return intent, nil
}

// extractJSONObject returns the first balanced {...} substring, ignoring braces inside strings
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func buildPrompt(question string) string {
	return fmt.Sprintf(`You classify questions about Pokémon Trading Card Game prices.

Question: %q

Decide which request type it is:
- "pokemon": the user wants cards of a single Pokémon (search_term is the Pokémon name)
- "set": the user wants the cards of one set (search_term is the set name)
- "total_cost": the user wants the total value of a set (search_term is the set name)
- "top_cards": the user wants the most valuable cards of a set (search_term is the set name)

Respond with ONLY a JSON object with exactly these keys:
{"request_type": "<pokemon|set|total_cost|top_cards>", "search_term": "<term>"}`, question)
}
