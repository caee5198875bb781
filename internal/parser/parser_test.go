package parser_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/llm"
	"github.com/tradingarena/engine/internal/parser"
	"github.com/tradingarena/engine/pkg/types"
)

func testParser() *parser.Parser {
	cfg := types.DefaultLLMConfig()
	cfg.MinInterval = time.Millisecond
	cfg.PostRequestWait = time.Millisecond
	cfg.CallTimeout = 200 * time.Millisecond
	client := llm.New(zap.NewNop(), cfg)
	return parser.New(client)
}

func TestParseFallsBackToDocumentedDefaults(t *testing.T) {
	p := testParser()
	extracted, err := p.Parse(context.Background(), "make a 10 minute trading contest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extracted.DurationSeconds <= 0 {
		t.Errorf("expected a positive default duration, got %d", extracted.DurationSeconds)
	}
	if len(extracted.Tokens) == 0 {
		t.Error("expected a non-empty default token list")
	}
	if extracted.StartingBalance.IsZero() {
		t.Error("expected a non-zero default starting balance")
	}
}

func TestToRoundParamsCarriesDuration(t *testing.T) {
	p := testParser()
	extracted, err := p.Parse(context.Background(), "quick round")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params := extracted.ToRoundParams()
	if params.Duration != time.Duration(extracted.DurationSeconds)*time.Second {
		t.Errorf("expected duration to match extracted seconds, got %v", params.Duration)
	}
	if params.Title != extracted.Title {
		t.Errorf("expected title to carry through, got %q", params.Title)
	}
}
