package inject

import (
	"context"
	"sync"

	"github.com/petems/voicekey/internal/config"
)

type pasteInjector struct {
	mu          sync.Mutex
	preferPaste bool
}

// New creates a new text injector
func New(cfg config.InjectConfig) Injector {
	return &pasteInjector{
		preferPaste: cfg.PreferPaste,
	}
}

// Paste injects text using clipboard + paste shortcut
// Implementation is platform-specific (see paste_darwin.go, paste_linux.go, etc.)
func (p *pasteInjector) Paste(ctx context.Context, text string) error {
	return platformPaste(ctx, text)
}

// Type injects text using keyboard simulation
func (p *pasteInjector) Type(ctx context.Context, text string) error {
	return platformType(ctx, text)
}

// PasteOrType tries paste first, falls back to type if needed
func (p *pasteInjector) PasteOrType(ctx context.Context, text string) error {
	if p.prefersPaste() {
		if err := p.Paste(ctx, text); err == nil {
			return nil
		}
	}
	return p.Type(ctx, text)
}

// SetPreferPaste switches the injection strategy for subsequent dictations.
func (p *pasteInjector) SetPreferPaste(prefer bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferPaste = prefer
}

func (p *pasteInjector) prefersPaste() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preferPaste
}
