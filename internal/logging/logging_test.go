package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestGenerateOperationID(t *testing.T) {
	id := GenerateOperationID()
	if len(id) != 8 {
		t.Errorf("GenerateOperationID() length = %d, want 8", len(id))
	}

	if id2 := GenerateOperationID(); id == id2 {
		t.Errorf("GenerateOperationID() generated duplicate IDs: %s", id)
	}
}

func TestOperationIDContext(t *testing.T) {
	ctx := context.Background()
	if got := OperationID(ctx); got != "" {
		t.Errorf("OperationID(empty context) = %q, want empty string", got)
	}

	ctx = WithOperationID(ctx, "test1234")
	if got := OperationID(ctx); got != "test1234" {
		t.Errorf("OperationID() = %q, want %q", got, "test1234")
	}

	if got := OperationID(NewOperation(context.Background())); len(got) != 8 {
		t.Errorf("NewOperation() id = %q, want 8 chars", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCtxTagsOperation(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	SetupWriter(&buf, "info", false)
	Ctx(WithOperationID(context.Background(), "abcd1234")).Info().Msg("tick")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["op"] != "abcd1234" || line["message"] != "tick" {
		t.Fatalf("unexpected log line: %v", line)
	}
}
