// Package ui печатает поток событий прогона в терминал построчно.
package ui

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/ilkoid/poncho-writer/pkg/chain"
	"github.com/ilkoid/poncho-writer/pkg/events"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Ограничения вывода.
const (
	DefaultWidth   = 100
	minWidth       = 40
	previewRunes   = 400
	previewIndent  = 4
	argsPreviewLen = 120
)

// Printer выводит события и итог прогона. Безопасен для вызова из нескольких горутин.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	width   int
	verbose bool
	st      styles
}

// NewPrinter создаёт Printer для w. width <= 0 означает DefaultWidth.
//
// verbose печатает полный текст результатов вместо превью.
func NewPrinter(w io.Writer, width int, verbose bool) *Printer {
	if width <= 0 {
		width = DefaultWidth
	}
	if width < minWidth {
		width = minWidth
	}
	return &Printer{
		w:       w,
		width:   width,
		verbose: verbose,
		st:      newStyles(lipgloss.NewRenderer(w)),
	}
}

// Header печатает заголовок прогона.
func (p *Printer) Header(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.st.header.Render(title))
}

// Event печатает одно событие графа.
func (p *Printer) Event(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch data := ev.Data.(type) {
	case events.ModelRespondedData:
		p.modelResponded(data)
	case events.ToolInvokedData:
		p.toolInvoked(data)
	case events.RunEndedData:
		line := fmt.Sprintf("run ended after %d model steps", data.Iterations)
		if data.Err != nil {
			line += ": " + data.Err.Error()
		}
		fmt.Fprintln(p.w, p.st.muted.Render(line))
	}
}

func (p *Printer) modelResponded(data events.ModelRespondedData) {
	msg := data.Message
	head := p.st.step.Render(fmt.Sprintf("[step %d]", data.Iteration))

	switch {
	case msg.Failed:
		fmt.Fprintf(p.w, "%s %s\n", head, p.st.failed.Render("model error"))
		fmt.Fprintln(p.w, p.block(msg.Content))
	case len(msg.ToolCalls) > 0:
		fmt.Fprintf(p.w, "%s model requested %s\n", head, callNames(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			args := utils.TruncateText(strings.TrimSpace(tc.Args), argsPreviewLen)
			fmt.Fprintln(p.w, p.st.muted.Render(indent.String(tc.Name+" "+args, previewIndent)))
		}
	default:
		fmt.Fprintf(p.w, "%s model answered\n", head)
		fmt.Fprintln(p.w, p.block(msg.Content))
	}
}

func (p *Printer) toolInvoked(data events.ToolInvokedData) {
	name := p.st.tool.Render(data.Name)
	status := p.st.ok.Render("ok")
	if !data.Output.OK() {
		status = p.st.failed.Render("failed: " + data.Output.Reason)
	}
	fmt.Fprintf(p.w, "  %s %s %s\n", name, status, p.st.muted.Render(data.Duration.Round(time.Millisecond).String()))

	if data.Output.Path != "" {
		fmt.Fprintln(p.w, indent.String("-> "+data.Output.Path, previewIndent))
	}
	if text := renderOutput(data.Output); text != "" {
		fmt.Fprintln(p.w, p.block(text))
	}
}

// Outcome печатает итог прогона.
func (p *Printer) Outcome(o chain.RunOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w)
	if o.Completed() {
		fmt.Fprintln(p.w, p.st.ok.Render(fmt.Sprintf("completed in %d model steps (%s)", o.Iterations, o.Duration.Round(time.Millisecond))))
		fmt.Fprintln(p.w, p.st.summary.Render(wordwrap.String(o.FinalSummary, p.width-4)))
	} else {
		fmt.Fprintln(p.w, p.st.failed.Render(fmt.Sprintf("failed after %d model steps", o.Iterations)))
		fmt.Fprintln(p.w, wordwrap.String(o.ErrorMessage(), p.width))
	}

	if len(o.ArtifactPaths) > 0 {
		fmt.Fprintln(p.w, p.st.step.Render("files:"))
		for _, name := range slices.Sorted(maps.Keys(o.ArtifactPaths)) {
			fmt.Fprintf(p.w, "  %s  %s\n", name, p.st.muted.Render(o.ArtifactPaths[name]))
		}
	}
}

// block переносит текст по ширине и сдвигает его под заголовок события.
func (p *Printer) block(text string) string {
	text = strings.TrimSpace(text)
	if !p.verbose {
		text = utils.TruncateText(text, previewRunes)
	}
	return indent.String(wordwrap.String(text, p.width-previewIndent), previewIndent)
}

func renderOutput(out tools.Output) string {
	if !out.OK() {
		if len(out.Details) == 0 {
			return ""
		}
		return fmt.Sprintf("%v", out.Details)
	}
	return out.Render()
}

func callNames(calls []llm.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		names = append(names, tc.Name)
	}
	return strings.Join(names, ", ")
}
