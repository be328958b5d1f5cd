package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeModel struct {
	response string
	err      error
	gotMsgs  []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.gotMsgs = in
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.response}, nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func newTestExtractor(m model.BaseChatModel) *Extractor {
	return NewWithModel(Config{Model: "test-model"}, m)
}

func TestExtractPolicyParsesWrappedJSON(t *testing.T) {
	fake := &fakeModel{response: `Here is the result: {"policyNumber":"123","customerName":"Ana Souza","issueDate":"2025-01-10","expiryDate":"2026-01-10","insurer":"Porto","coverageAmount":150000,"premium":1200.5,"type":"auto"}`}
	e := newTestExtractor(fake)

	fields, err := e.ExtractPolicy(context.Background(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ExtractPolicy failed: %v", err)
	}
	if fields.PolicyNumber != "123" || fields.CustomerName != "Ana Souza" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if fields.Premium != 1200.5 || fields.Type != "auto" {
		t.Fatalf("unexpected numeric fields: %+v", fields)
	}
}

func TestExtractPolicySendsDocumentAndPrompt(t *testing.T) {
	fake := &fakeModel{response: `{"policyNumber":"1"}`}
	e := newTestExtractor(fake)

	if _, err := e.ExtractPolicy(context.Background(), []byte("doc-bytes")); err != nil {
		t.Fatalf("ExtractPolicy failed: %v", err)
	}
	if len(fake.gotMsgs) != 2 {
		t.Fatalf("expected system + user message, got %d", len(fake.gotMsgs))
	}
	if fake.gotMsgs[0].Role != schema.System {
		t.Fatalf("expected system message first")
	}
	user := fake.gotMsgs[1]
	if len(user.MultiContent) != 2 {
		t.Fatalf("expected prompt + document parts, got %d", len(user.MultiContent))
	}
	if user.MultiContent[1].ImageURL == nil ||
		!strings.HasPrefix(user.MultiContent[1].ImageURL.URL, "data:application/pdf;base64,") {
		t.Fatalf("expected base64 data URL document part")
	}
}

func TestExtractPolicyNoJSONPreservesRaw(t *testing.T) {
	fake := &fakeModel{response: "I could not read the document, sorry."}
	e := newTestExtractor(fake)

	_, err := e.ExtractPolicy(context.Background(), []byte("doc"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Raw != "I could not read the document, sorry." {
		t.Fatalf("raw output not preserved: %q", parseErr.Raw)
	}
}

func TestExtractPolicyMalformedJSONPreservesRaw(t *testing.T) {
	fake := &fakeModel{response: `{"policyNumber": }`}
	e := newTestExtractor(fake)

	_, err := e.ExtractPolicy(context.Background(), []byte("doc"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Err == nil {
		t.Fatalf("expected wrapped unmarshal error")
	}
}

func TestExtractPolicyEmptyDocument(t *testing.T) {
	e := newTestExtractor(&fakeModel{response: "{}"})
	if _, err := e.ExtractPolicy(context.Background(), nil); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestExtractPolicyMissingCredential(t *testing.T) {
	e := New(Config{Model: "m"})
	if _, err := e.ExtractPolicy(context.Background(), []byte("doc")); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestFirstJSONObjectSkipsBracesInStrings(t *testing.T) {
	input := `prefix {"note":"open { brace \" inside","n":1} suffix {"x":2}`
	got, ok := firstJSONObject(input)
	if !ok {
		t.Fatalf("expected object")
	}
	if got != `{"note":"open { brace \" inside","n":1}` {
		t.Fatalf("unexpected object: %s", got)
	}
}

func TestFirstJSONObjectUnbalanced(t *testing.T) {
	if _, ok := firstJSONObject(`{"never": "closed"`); ok {
		t.Fatalf("expected no object for unbalanced input")
	}
}

func TestParseDate(t *testing.T) {
	if _, err := ParseDate("2026-03-01"); err != nil {
		t.Fatalf("date-only form rejected: %v", err)
	}
	if _, err := ParseDate("2026-03-01T00:00:00Z"); err != nil {
		t.Fatalf("RFC3339 form rejected: %v", err)
	}
	if _, err := ParseDate("01/03/2026"); err == nil {
		t.Fatalf("expected error for non-ISO date")
	}
}

func TestModelInitializedOnceUnderConcurrency(t *testing.T) {
	e := New(Config{APIKey: "key", Model: "test-model"})
	var calls int32
	fake := &fakeModel{response: "{}"}
	e.newModel = func(context.Context) (model.BaseChatModel, error) {
		atomic.AddInt32(&calls, 1)
		return fake, nil
	}

	const workers = 8
	models := make([]model.BaseChatModel, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := e.model(context.Background())
			if err != nil {
				t.Errorf("model init failed: %v", err)
				return
			}
			models[i] = m
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single model construction, got %d", got)
	}
	for i, m := range models {
		if m != fake {
			t.Fatalf("worker %d got a different model instance", i)
		}
	}
}

func TestModelInitFailureSticks(t *testing.T) {
	e := New(Config{APIKey: "key", Model: "test-model"})
	e.newModel = func(context.Context) (model.BaseChatModel, error) {
		return nil, errors.New("bad endpoint")
	}

	if _, err := e.model(context.Background()); err == nil {
		t.Fatal("expected init error")
	}
	if _, err := e.model(context.Background()); err == nil {
		t.Fatal("expected init error to persist")
	}
}
