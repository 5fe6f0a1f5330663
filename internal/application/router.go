package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ahrav/go-arena/internal/logging"
	"github.com/ahrav/go-arena/internal/ports"
)

// Route classifies message. A nil router admits every message. Router
// failures and unrecognized intents degrade to IntentNeedsClarification so
// that an unavailable classifier never starts a tournament.
func Route(ctx context.Context, router ports.IntentRouter, message string, logger *logging.Logger) ports.Intent {
	if router == nil {
		return ports.IntentCanAnswer
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	intent, err := router.Classify(ctx, strings.TrimSpace(message))
	if err != nil {
		logger.WithComponent("router").Warn("intent classification failed", "error", err)
		return ports.IntentNeedsClarification
	}
	switch intent {
	case ports.IntentCanAnswer, ports.IntentNeedsTools, ports.IntentNeedsClarification:
		return intent
	default:
		logger.WithComponent("router").Warn("unknown intent", "intent", string(intent))
		return ports.IntentNeedsClarification
	}
}

// EntersArena reports whether a routed message should start a tournament.
func EntersArena(intent ports.Intent) bool {
	return intent == ports.IntentCanAnswer
}

var errUnrecognizedIntent = errors.New("unrecognized intent")

const routerPrompt = `Classify the user message below. Reply with exactly one word:
can_answer if a language model can answer it from general knowledge,
needs_tools if it requires live data, files or external tools,
needs_clarification if it is ambiguous or incomplete.

Message:
`

// GeneratorRouter classifies messages by asking a model.
type GeneratorRouter struct {
	generator ports.Generator
	model     string
}

// NewGeneratorRouter returns a router that classifies with model.
func NewGeneratorRouter(generator ports.Generator, model string) *GeneratorRouter {
	return &GeneratorRouter{generator: generator, model: model}
}

// Classify implements ports.IntentRouter.
func (r *GeneratorRouter) Classify(ctx context.Context, message string) (ports.Intent, error) {
	gen, err := r.generator.Generate(ctx, r.model, routerPrompt+message, ports.GenerateOptions{MaxTokens: 8})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	reply := foldCaser.String(gen.Text)
	for _, intent := range []ports.Intent{ports.IntentNeedsClarification, ports.IntentNeedsTools, ports.IntentCanAnswer} {
		if strings.Contains(reply, string(intent)) {
			return intent, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errUnrecognizedIntent, strings.TrimSpace(gen.Text))
}
