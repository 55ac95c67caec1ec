package widget

import "io"

// Hook is any value passed to a Renderer. The renderer calls whichever of the
// optional capability interfaces below the hook implements.
type Hook interface{}

// BeforeRenderer writes markup ahead of the widget.
type BeforeRenderer interface {
	BeforeRender(w io.Writer, cfg WidgetConfig)
}

// ScriptEnqueuer is told which page the widget is being rendered on so it can
// emit its own assets once per page.
type ScriptEnqueuer interface {
	EnqueueScripts(w io.Writer, page *Page, consent ConsentState)
}

// AfterRenderer writes markup after the widget.
type AfterRenderer interface {
	AfterRender(w io.Writer, cfg WidgetConfig)
}

// HookFuncs adapts plain functions to the hook capabilities.
type HookFuncs struct {
	Before func(w io.Writer, cfg WidgetConfig)
	After  func(w io.Writer, cfg WidgetConfig)
}

func (h HookFuncs) BeforeRender(w io.Writer, cfg WidgetConfig) {
	if h.Before != nil {
		h.Before(w, cfg)
	}
}

func (h HookFuncs) AfterRender(w io.Writer, cfg WidgetConfig) {
	if h.After != nil {
		h.After(w, cfg)
	}
}
