// Package extract declares the optional per-unit Extractor boundary of
// spec §6.1: turning a fetched document plus a JSON schema/prompt into
// structured JSON. AnthropicExtractor is a reference adapter; the core
// never depends on it directly, only on the Extractor interface.
package extract

import (
	"context"
	"encoding/json"
)

// Extractor turns document content into structured JSON per a schema
// and/or natural-language prompt. AnthropicExtractor reports both a failed
// model call and a non-JSON reply as apierr.KindInternal; the Worker logs
// extraction failures and still reports the page.
type Extractor interface {
	Extract(ctx context.Context, document string, schema json.RawMessage, prompt string) (json.RawMessage, error)
}
