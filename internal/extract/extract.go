// Package extract asks a vision-capable chat model to pull structured policy
// fields out of an uploaded PDF. The model is not trusted to return pure
// JSON: the response is scanned for the first brace-delimited object.
package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrNoCredentials means no analysis API key is configured; checked before
// any call leaves the process.
var ErrNoCredentials = errors.New("extract: analysis api key not configured")

// ErrEmptyDocument means the uploaded file had no readable content.
var ErrEmptyDocument = errors.New("extract: empty document")

// ParseError preserves the raw model output when no JSON object could be
// recovered from it.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse model output: %v", e.Err)
	}
	return "parse model output: no JSON object found"
}

func (e *ParseError) Unwrap() error { return e.Err }

// Fields is the JSON shape the extraction prompt requests.
type Fields struct {
	PolicyNumber   string  `json:"policyNumber"`
	CustomerName   string  `json:"customerName"`
	CustomerPhone  string  `json:"customerPhone,omitempty"`
	IssueDate      string  `json:"issueDate"`
	ExpiryDate     string  `json:"expiryDate"`
	Insurer        string  `json:"insurer"`
	CoverageAmount float64 `json:"coverageAmount"`
	Premium        float64 `json:"premium"`
	Type           string  `json:"type"`
}

// ParseDate accepts the ISO forms the prompt asks for.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

const systemPrompt = "You are an insurance policy analyst. You extract structured data " +
	"from Brazilian insurance policy documents and answer with JSON only."

const extractionPrompt = "Read the attached insurance policy document and return one JSON object " +
	"with exactly these fields: policyNumber (string), customerName (string), " +
	"customerPhone (string, optional), issueDate (ISO 8601 date), expiryDate (ISO 8601 date), " +
	"insurer (string), coverageAmount (number), premium (number), " +
	"type (one of: auto, life, health, home, business, other). " +
	"Do not wrap the JSON in markdown or add commentary."

// Config selects the chat/completions-style endpoint and model.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Extractor drives the document-analysis model. It is shared across request
// goroutines; lazy model construction is guarded by initOnce.
type Extractor struct {
	cfg       Config
	initOnce  sync.Once
	initErr   error
	chatModel model.BaseChatModel
	newModel  func(ctx context.Context) (model.BaseChatModel, error)
}

// New builds an extractor over an OpenAI-compatible chat model. The client
// is created lazily so a missing credential surfaces as ErrNoCredentials at
// call time rather than at boot.
func New(cfg Config) *Extractor {
	e := &Extractor{cfg: cfg}
	e.newModel = func(ctx context.Context) (model.BaseChatModel, error) {
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
	}
	return e
}

// NewWithModel injects a prebuilt chat model; used by tests and by callers
// that already hold one.
func NewWithModel(cfg Config, chatModel model.BaseChatModel) *Extractor {
	return &Extractor{cfg: cfg, chatModel: chatModel}
}

func (e *Extractor) model(ctx context.Context) (model.BaseChatModel, error) {
	e.initOnce.Do(func() {
		if e.chatModel != nil {
			return
		}
		chatModel, err := e.newModel(ctx)
		if err != nil {
			e.initErr = fmt.Errorf("init chat model: %w", err)
			return
		}
		e.chatModel = chatModel
	})
	return e.chatModel, e.initErr
}

// ExtractPolicy sends the document and the fixed extraction prompt to the
// model and parses the answer into Fields.
func (e *Extractor) ExtractPolicy(ctx context.Context, pdf []byte) (Fields, error) {
	if strings.TrimSpace(e.cfg.APIKey) == "" && e.chatModel == nil {
		return Fields{}, ErrNoCredentials
	}
	if len(pdf) == 0 {
		return Fields{}, ErrEmptyDocument
	}

	chatModel, err := e.model(ctx)
	if err != nil {
		return Fields{}, err
	}

	dataURL := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
	messages := []*schema.Message{
		{
			Role:    schema.System,
			Content: systemPrompt,
		},
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: extractionPrompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:    dataURL,
						Detail: schema.ImageURLDetailAuto,
					},
				},
			},
		},
	}

	resp, err := chatModel.Generate(ctx, messages)
	if err != nil {
		return Fields{}, fmt.Errorf("analysis request: %w", err)
	}

	return parseFields(resp.Content)
}

func parseFields(raw string) (Fields, error) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Fields{}, &ParseError{Raw: raw}
	}
	var fields Fields
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Fields{}, &ParseError{Raw: raw, Err: err}
	}
	return fields, nil
}

// firstJSONObject returns the first balanced brace-delimited substring,
// skipping braces that appear inside JSON strings.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
