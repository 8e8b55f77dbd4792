package errors

import (
	"fmt"
	"html"
	"sync"
	"time"
)

// Diagnostic is a soft failure observed while serving a request: a missing
// variable, an asset that could not be registered, or an embedded module
// that failed and was replaced with empty text.
type Diagnostic struct {
	Module    string
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Error implements the error interface
func (d *Diagnostic) Error() string {
	if d.Module == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.Module, d.Severity, d.Message)
}

// Collector collects the diagnostics of one request.
type Collector struct {
	diagnostics []Diagnostic
	mutex       sync.RWMutex
}

// NewCollector creates a new diagnostic collector
func NewCollector() *Collector {
	return &Collector{
		diagnostics: make([]Diagnostic, 0),
	}
}

// Add records a diagnostic
func (c *Collector) Add(d Diagnostic) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	c.diagnostics = append(c.diagnostics, d)
}

// Diagnostics returns a copy of the collected diagnostics
func (c *Collector) Diagnostics() []Diagnostic {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]Diagnostic, len(c.diagnostics))
	copy(result, c.diagnostics)
	return result
}

// HasDiagnostics returns true if anything was collected
func (c *Collector) HasDiagnostics() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.diagnostics) > 0
}

// Len returns the number of collected diagnostics
func (c *Collector) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.diagnostics)
}

// Clear drops all diagnostics
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.diagnostics = c.diagnostics[:0]
}

// Overlay generates the HTML panel appended to pages in debug mode.
func (c *Collector) Overlay() string {
	if !c.HasDiagnostics() {
		return ""
	}

	out := `
<div id="folio-diagnostics" style="
	position: fixed;
	bottom: 0;
	left: 0;
	width: 100%;
	max-height: 40%;
	background: rgba(0, 0, 0, 0.85);
	color: white;
	font-family: 'Monaco', 'Menlo', monospace;
	font-size: 13px;
	z-index: 9999;
	padding: 12px 20px;
	box-sizing: border-box;
	overflow: auto;
">
	<div style="display: flex; justify-content: space-between; align-items: center;">
		<strong style="color: #feca57;">Diagnostics</strong>
		<button onclick="document.getElementById('folio-diagnostics').style.display='none'"
				style="background: none; border: 1px solid #ccc; color: white; padding: 2px 8px; cursor: pointer;">
			Close
		</button>
	</div>
	<ul style="list-style: none; padding: 0;">`

	c.mutex.RLock()
	for _, d := range c.diagnostics {
		color := "#ff6b6b"
		switch d.Severity {
		case ErrorSeverityWarning:
			color = "#feca57"
		case ErrorSeverityInfo:
			color = "#48dbfb"
		}

		out += fmt.Sprintf(`
		<li style="border-left: 4px solid %s; padding-left: 8px; margin: 6px 0;">
			<span style="color: #a0aec0;">%s</span> <span style="color: %s;">%s</span> %s %s
		</li>`,
			color,
			d.Timestamp.Format("15:04:05"),
			color,
			d.Severity.String(),
			html.EscapeString(d.Module),
			html.EscapeString(d.Message),
		)
	}
	c.mutex.RUnlock()

	out += `
	</ul>
</div>`

	return out
}
