package application

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-arena/internal/domain"
)

var foldCaser = cases.Fold()

// RegisterArenaValidators registers the custom struct tags used by Config.
func RegisterArenaValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelformat", validateModelFormat); err != nil {
		return fmt.Errorf("failed to register modelformat validator: %w", err)
	}
	return nil
}

// validateModelFormat accepts provider/model ids. The provider must be
// non-empty and the model may itself contain slashes. Empty values pass so
// optional fields can combine it with omitempty.
func validateModelFormat(fl validator.FieldLevel) bool {
	model := fl.Field().String()
	if model == "" {
		return true
	}
	provider, name, ok := strings.Cut(model, "/")
	if !ok || provider == "" || name == "" {
		return false
	}
	return !strings.ContainsAny(model, " \t\n")
}

// normalizeVote folds case and trims whitespace so "Left " and "LEFT" parse.
func normalizeVote(raw string) string {
	return foldCaser.String(strings.TrimSpace(raw))
}

// ParseChoice validates a user's tournament vote.
func ParseChoice(raw string) (domain.Choice, error) {
	return domain.ParseChoice(normalizeVote(raw))
}

// ParsePreference validates a user's battle vote. "both-bad" and
// "both bad" are accepted spellings of both_bad.
func ParsePreference(raw string) (domain.Preference, error) {
	v := normalizeVote(raw)
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	return domain.ParsePreference(v)
}
