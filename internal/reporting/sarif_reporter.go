package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "checkout-inspector"
	ToolInfoURI  = "https://github.com/xkilldash9x/checkout-inspector"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// SARIFReporter implements Reporter for the SARIF 2.1.0 format. Results are
// buffered and written on Close. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects log and rules.
	mu    sync.Mutex
	rules map[string]struct{}
}

// NewSARIFReporter creates a reporter that writes SARIF output to writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}
	return &SARIFReporter{
		writer: writer,
		logger: logger.Named("sarif_reporter"),
		log:    log,
		rules:  make(map[string]struct{}),
	}
}

// Write converts every check of result into a SARIF result.
func (r *SARIFReporter) Write(result *schemas.ScanResult) error {
	if result == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	run.Invocations = append(run.Invocations, &sarif.Invocation{
		ExecutionSuccessful: true,
		EndTimeUTC:          pString(result.ScannedAt.UTC().Format(time.RFC3339)),
		Properties: &sarif.PropertyBag{
			"scanId":      result.ScanID,
			"tabId":       string(result.TabID),
			"healthScore": result.Health.Score,
			"healthTier":  string(result.Health.Tier),
		},
	})

	for _, c := range result.Checks {
		r.ensureRule(c)

		text := c.Title
		if c.Detail != "" {
			text = c.Title + ": " + c.Detail
		}
		sr := &sarif.Result{
			RuleID:    c.ID,
			Message:   &sarif.Message{Text: pString(text)},
			Level:     severityToLevel(c.Severity),
			Kind:      severityToKind(c.Severity),
			Locations: pageLocations(result.PageURL),
			Properties: &sarif.PropertyBag{
				"severity": string(c.Severity),
				"category": c.Category,
			},
		}
		if c.Remediation != "" {
			sr.Fixes = []*sarif.Fix{{Description: &sarif.Message{Text: pString(c.Remediation)}}}
		}
		run.Results = append(run.Results, sr)
	}

	r.logger.Debug("Wrote checks to SARIF buffer",
		zap.String("scan_id", result.ScanID),
		zap.Int("checks", len(result.Checks)),
	)
	return nil
}

// Close encodes the SARIF log and closes the writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	encodeErr := enc.Encode(r.log)
	// The writer is closed even when encoding failed.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Wrote SARIF report", zap.Int("results", len(r.log.Runs[0].Results)))
	return nil
}

// ensureRule registers a descriptor the first time a check id is seen.
// Must be called with mu held.
func (r *SARIFReporter) ensureRule(c schemas.CheckResult) {
	if _, ok := r.rules[c.ID]; ok {
		return
	}
	r.rules[c.ID] = struct{}{}

	rule := &sarif.ReportingDescriptor{
		ID:               c.ID,
		Name:             pString(c.ID),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(c.Title)},
		Properties: &sarif.PropertyBag{
			"tags": []string{"checkout", c.Category},
		},
	}
	if c.DocsURL != "" {
		rule.HelpURI = pString(c.DocsURL)
	}
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, rule)
}

func pageLocations(pageURL string) []*sarif.Location {
	if pageURL == "" {
		return nil
	}
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(pageURL)},
		},
	}}
}

func severityToLevel(s schemas.Severity) sarif.Level {
	switch s {
	case schemas.SeverityFail:
		return sarif.LevelError
	case schemas.SeverityWarn:
		return sarif.LevelWarning
	case schemas.SeverityNotice:
		return sarif.LevelNote
	default:
		return sarif.LevelNone
	}
}

func severityToKind(s schemas.Severity) sarif.Kind {
	switch s {
	case schemas.SeverityPass:
		return sarif.KindPass
	case schemas.SeverityFail, schemas.SeverityWarn, schemas.SeverityNotice:
		return sarif.KindFail
	case schemas.SeveritySkip:
		return sarif.KindNotApplicable
	default:
		return sarif.KindInformational
	}
}

// pString returns a pointer to s.
func pString(s string) *string {
	return &s
}
