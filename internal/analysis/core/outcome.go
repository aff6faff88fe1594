package core

import (
	"fmt"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// OutcomeOption decorates a CheckOutcome.
type OutcomeOption func(*schemas.CheckOutcome)

// WithDetail attaches an explanation. Arguments are formatted with fmt.Sprintf.
func WithDetail(format string, args ...interface{}) OutcomeOption {
	return func(o *schemas.CheckOutcome) {
		o.Detail = fmt.Sprintf(format, args...)
	}
}

// WithRemediation attaches the suggested fix.
func WithRemediation(text string) OutcomeOption {
	return func(o *schemas.CheckOutcome) { o.Remediation = text }
}

// WithDocs attaches a documentation link.
func WithDocs(url string) OutcomeOption {
	return func(o *schemas.CheckOutcome) { o.DocsURL = url }
}

// Outcome builds a CheckOutcome of the given severity.
func Outcome(severity schemas.Severity, title string, opts ...OutcomeOption) schemas.CheckOutcome {
	o := schemas.CheckOutcome{Severity: severity, Title: title}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func Pass(title string, opts ...OutcomeOption) schemas.CheckOutcome {
	return Outcome(schemas.SeverityPass, title, opts...)
}

func Fail(title string, opts ...OutcomeOption) schemas.CheckOutcome {
	return Outcome(schemas.SeverityFail, title, opts...)
}

func Warn(title string, opts ...OutcomeOption) schemas.CheckOutcome {
	return Outcome(schemas.SeverityWarn, title, opts...)
}

func Notice(title string, opts ...OutcomeOption) schemas.CheckOutcome {
	return Outcome(schemas.SeverityNotice, title, opts...)
}

func Info(title string, opts ...OutcomeOption) schemas.CheckOutcome {
	return Outcome(schemas.SeverityInfo, title, opts...)
}

func Skip(title string, opts ...OutcomeOption) schemas.CheckOutcome {
	return Outcome(schemas.SeveritySkip, title, opts...)
}
