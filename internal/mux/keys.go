package mux

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SendKeys sends keys to a pane. Literal keys are typed as text; otherwise
// they are tmux key names such as "Enter" or "C-c".
func (t *Tmux) SendKeys(ctx context.Context, target, keys string, literal bool) error {
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)
	if _, err := t.run(ctx, args...); err != nil {
		return errors.Wrapf(err, "tmux send-keys -t %s", target)
	}
	return nil
}

// SendLine types text into a pane and presses Enter. The Enter is retried,
// since a pane that is still starting its shell can drop it.
func (t *Tmux) SendLine(ctx context.Context, target, text string) error {
	if IsKeyName(text) {
		return t.SendKeys(ctx, target, text, false)
	}
	if err := t.SendKeys(ctx, target, text, true); err != nil {
		return err
	}

	// Let the paste land before pressing Enter.
	t.sleep(300 * time.Millisecond)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			t.sleep(200 * time.Millisecond)
		}
		if err := t.SendKeys(ctx, target, "Enter", false); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, "send Enter after 3 attempts")
}

// IsKeyName reports whether keys is a tmux key name rather than text.
func IsKeyName(keys string) bool {
	switch keys {
	case "Enter", "Escape", "Up", "Down", "Left", "Right",
		"Tab", "BTab", "Space", "BSpace", "DC":
		return true
	}
	if len(keys) == 3 && (keys[0] == 'C' || keys[0] == 'M') && keys[1] == '-' {
		return true
	}
	return false
}
