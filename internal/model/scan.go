package model

import (
	"encoding/json"
	"time"
)

// ScanOptions configures a single browser scan
type ScanOptions struct {
	Timeout             int               `json:"timeout,omitempty" validate:"omitempty,min=1000,max=300000"` // ms
	WaitUntil           string            `json:"waitUntil,omitempty" validate:"omitempty,oneof=load domcontentloaded networkidle commit"`
	IncludeSelectors    []string          `json:"includeSelectors,omitempty"`
	ExcludeSelectors    []string          `json:"excludeSelectors,omitempty"`
	DisableRules        []string          `json:"disableRules,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	Viewport            *Viewport         `json:"viewport,omitempty"`
	UserAgent           string            `json:"userAgent,omitempty"`
	Screenshot          *bool             `json:"screenshot,omitempty"`
	HighlightViolations *bool             `json:"highlightViolations,omitempty"`
	OutputDir           string            `json:"outputDir,omitempty"`
	ColorScheme         string            `json:"colorScheme,omitempty" validate:"omitempty,oneof=light dark no-preference"`
	ReducedMotion       string            `json:"reducedMotion,omitempty" validate:"omitempty,oneof=reduce no-preference"`
	Cookies             []Cookie          `json:"cookies,omitempty" validate:"omitempty,dive"`
	LocalStorage        map[string]string `json:"localStorage,omitempty"`
}

type Viewport struct {
	Width  int `json:"width" validate:"min=320,max=7680"`
	Height int `json:"height" validate:"min=240,max=4320"`
}

type Cookie struct {
	Name   string `json:"name" validate:"required"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// WithDefaults fills every unset option from d.
func (o ScanOptions) WithDefaults(d ScanOptions) ScanOptions {
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.WaitUntil == "" {
		o.WaitUntil = d.WaitUntil
	}
	if len(o.Tags) == 0 {
		o.Tags = d.Tags
	}
	if o.Viewport == nil {
		o.Viewport = d.Viewport
	}
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.Screenshot == nil {
		o.Screenshot = d.Screenshot
	}
	if o.HighlightViolations == nil {
		o.HighlightViolations = d.HighlightViolations
	}
	if o.OutputDir == "" {
		o.OutputDir = d.OutputDir
	}
	if o.ColorScheme == "" {
		o.ColorScheme = d.ColorScheme
	}
	if o.ReducedMotion == "" {
		o.ReducedMotion = d.ReducedMotion
	}
	return o
}

// ScanResult is what the scanner service returns for one page
type ScanResult struct {
	URL                string            `json:"url"`
	Timestamp          time.Time         `json:"timestamp"`
	Violations         []AxeViolation    `json:"violations"`
	PossibleViolations []AxeViolation    `json:"possibleViolations"`
	Passes             []json.RawMessage `json:"passes,omitempty"`
	Incomplete         []json.RawMessage `json:"incomplete,omitempty"`
	Inapplicable       []json.RawMessage `json:"inapplicable,omitempty"`
	ScreenshotPaths    *ScreenshotPaths  `json:"screenshotPaths,omitempty"`
	TestEnvironment    json.RawMessage   `json:"testEnvironment,omitempty"`
}

// AxeViolation is a rule failure as reported by axe-core
type AxeViolation struct {
	ID          string            `json:"id"`
	Impact      string            `json:"impact"`
	Tags        []string          `json:"tags,omitempty"`
	Description string            `json:"description"`
	Help        string            `json:"help"`
	HelpURL     string            `json:"helpUrl"`
	Nodes       []json.RawMessage `json:"nodes"`
}

type ScreenshotPaths struct {
	Original   *ScreenshotFile `json:"original,omitempty"`
	Violations *ScreenshotFile `json:"violations,omitempty"`
}

type ScreenshotFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// HasFiles reports whether at least one screenshot was captured.
func (p *ScreenshotPaths) HasFiles() bool {
	return p != nil && (p.Original != nil || p.Violations != nil)
}
