package browser

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed scripts/hook.js
var hookScript string

//go:embed scripts/extract.js
var extractScript string

// extract evaluates the introspection script and decodes its snapshot.
func (t *tab) extract(ctx context.Context) (*schemas.PageSnapshot, error) {
	var raw string
	err := t.run(ctx, chromedp.Evaluate(extractScript, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithSilent(true)
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", schemas.ErrExtractionInjection, err)
	}

	snap, err := decodeSnapshot(raw, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Page snapshot extracted.",
		zap.Int("scripts", len(snap.Scripts)),
		zap.Bool("has_config", snap.HasConfig()),
	)
	return snap, nil
}

// decodeSnapshot parses the script output. Empty or null output means the
// script ran but produced nothing.
func decodeSnapshot(raw string, capturedAt time.Time) (*schemas.PageSnapshot, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "undefined" {
		return nil, schemas.ErrExtractionNoResult
	}
	var snap schemas.PageSnapshot
	if err := json.UnmarshalFromString(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: malformed snapshot: %v", schemas.ErrExtractionNoResult, err)
	}
	if snap.PageProtocol == "" && snap.PageURL != "" {
		if u, err := url.Parse(snap.PageURL); err == nil {
			snap.PageProtocol = u.Scheme
		}
	}
	snap.CapturedAt = capturedAt
	return &snap, nil
}
