package service

import (
	"fmt"
	"slices"
	"strings"

	"fabtrack.io/tracker/internal/domain"
)

// Proposal is a requested status change. CHECK carries its value in Primary.
type Proposal struct {
	Primary   string                  `json:"primary,omitempty"`
	Secondary string                  `json:"secondary,omitempty"`
	Delivery  *domain.DeliveryDetails `json:"delivery,omitempty"`
}

// ValidationResult is the outcome of Validate. Value is the display string the
// proposal would persist as; it is set even when the proposal is rejected.
type ValidationResult struct {
	Valid  bool
	Reason string
	Value  string
}

// CategoryRules is the vocabulary of one category.
type CategoryRules struct {
	// Primaries lists the legal non-empty primary values.
	Primaries []string `yaml:"primaries"`
	// AllowEmpty permits clearing the category with an empty primary.
	AllowEmpty bool `yaml:"allow_empty"`
	// Secondaries maps a primary to its legal secondary values. A primary
	// with an entry requires a secondary; one without takes none.
	Secondaries map[string][]string `yaml:"secondaries"`
	// Separator joins primary and secondary in the display value.
	Separator string `yaml:"separator"`
	// RequiresDelivery lists primaries that need complete delivery details.
	RequiresDelivery []string `yaml:"requires_delivery"`
}

// Vocabulary holds the rules for every category.
type Vocabulary map[domain.StatusCategory]CategoryRules

// DefaultVocabulary returns the built-in status vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		domain.CategoryOrder: {
			Primaries:   []string{"Ordered"},
			AllowEmpty:  true,
			Secondaries: map[string][]string{"Ordered": {"(M.S)", "(L.S)", "(O.S)"}},
			Separator:   " - ",
		},
		domain.CategoryPickup: {
			Primaries: []string{"Picked", "Failed"},
			Secondaries: map[string][]string{
				"Picked": {"(B.T.W)", "(A.P)", "(W.H)", "(S.T)"},
				"Failed": {"(E.S)", "(N.A)"},
			},
			Separator: " ",
		},
		domain.CategoryDelivery: {
			Primaries:        []string{"Delivered"},
			AllowEmpty:       true,
			RequiresDelivery: []string{"Delivered"},
		},
		domain.CategoryCheck: {
			Primaries: []string{"(C.B)", "(C.P)", "(C.W)"},
		},
	}
}

// Check reports structural problems in the vocabulary.
func (v Vocabulary) Check() error {
	for _, cat := range domain.Categories() {
		rules, ok := v[cat]
		if !ok {
			return fmt.Errorf("vocabulary has no rules for %s", cat)
		}
		if len(rules.Primaries) == 0 {
			return fmt.Errorf("vocabulary for %s has no primaries", cat)
		}
		for primary, secondaries := range rules.Secondaries {
			if !slices.Contains(rules.Primaries, primary) {
				return fmt.Errorf("vocabulary for %s lists secondaries for unknown primary %q", cat, primary)
			}
			if len(secondaries) > 0 && rules.Separator == "" {
				return fmt.Errorf("vocabulary for %s needs a separator", cat)
			}
		}
	}
	return nil
}

// TransitionValidator decides whether a proposed status is legal. It performs
// no I/O.
type TransitionValidator struct {
	vocab Vocabulary
}

// NewTransitionValidator creates a validator over vocab.
func NewTransitionValidator(vocab Vocabulary) *TransitionValidator {
	return &TransitionValidator{vocab: vocab}
}

// Vocabulary returns the rules the validator enforces.
func (v *TransitionValidator) Vocabulary() Vocabulary { return v.vocab }

// Validate checks proposal against the category vocabulary and the current
// value. A nil current value is treated as empty.
func (v *TransitionValidator) Validate(category domain.StatusCategory, current *string, p Proposal) ValidationResult {
	rules, ok := v.vocab[category]
	if !ok {
		return reject("", "unknown status category %q", category)
	}

	primary := strings.TrimSpace(p.Primary)
	secondary := strings.TrimSpace(p.Secondary)
	value := rules.display(primary, secondary)

	if primary == "" {
		if !rules.AllowEmpty {
			return reject(value, "%s status is required", strings.ToLower(string(category)))
		}
		if secondary != "" {
			return reject(value, "secondary %s requires a primary status", secondary)
		}
		if !p.Delivery.IsZero() {
			return reject(value, "delivery details are only allowed with a delivered status")
		}
		return unchanged(value, current)
	}

	if !slices.Contains(rules.Primaries, primary) {
		return reject(value, "%q is not a valid %s status", primary, strings.ToLower(string(category)))
	}

	if allowed, needsSecondary := rules.Secondaries[primary]; needsSecondary && len(allowed) > 0 {
		if secondary == "" {
			return reject(value, "%s requires a secondary status, one of %s", primary, strings.Join(allowed, ", "))
		}
		if !slices.Contains(allowed, secondary) {
			return reject(value, "secondary %s is not allowed under %s", secondary, primary)
		}
	} else if secondary != "" {
		return reject(value, "%s takes no secondary status", primary)
	}

	if slices.Contains(rules.RequiresDelivery, primary) {
		if missing := p.Delivery.Missing(); len(missing) > 0 {
			return reject(value, "%s requires delivery details: missing %s", primary, strings.Join(missing, ", "))
		}
	} else if !p.Delivery.IsZero() {
		return reject(value, "delivery details are only allowed with a delivered status")
	}

	return unchanged(value, current)
}

// Display renders a proposal as the value it would persist as.
func (v *TransitionValidator) Display(category domain.StatusCategory, p Proposal) string {
	return v.vocab[category].display(strings.TrimSpace(p.Primary), strings.TrimSpace(p.Secondary))
}

// ParseValue decomposes a display value back into a Proposal.
func (v *TransitionValidator) ParseValue(category domain.StatusCategory, value string) (Proposal, error) {
	rules, ok := v.vocab[category]
	if !ok {
		return Proposal{}, fmt.Errorf("unknown status category %q", category)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Proposal{}, nil
	}
	for _, primary := range rules.Primaries {
		if value == primary {
			return Proposal{Primary: primary}, nil
		}
		if rules.Separator == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(value, primary+rules.Separator); ok {
			return Proposal{Primary: primary, Secondary: rest}, nil
		}
	}
	return Proposal{}, fmt.Errorf("%q is not a %s value", value, strings.ToLower(string(category)))
}

func (r CategoryRules) display(primary, secondary string) string {
	if secondary == "" {
		return primary
	}
	return primary + r.Separator + secondary
}

func unchanged(value string, current *string) ValidationResult {
	cur := ""
	if current != nil {
		cur = *current
	}
	if value == cur {
		return reject(value, "status unchanged")
	}
	return ValidationResult{Valid: true, Value: value}
}

func reject(value, format string, args ...any) ValidationResult {
	return ValidationResult{Reason: fmt.Sprintf(format, args...), Value: value}
}
