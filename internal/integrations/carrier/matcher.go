package carrier

import (
	"strings"

	"github.com/BearBump/OrderDesk/internal/models"
)

// Matcher is one step of a carrier's resolution chain.
type Matcher interface {
	Match(code, text string) (models.DeliveryStatus, bool)
}

// Chain evaluates matchers in order and stops at the first hit.
type Chain []Matcher

func (c Chain) Resolve(code, text string) models.DeliveryStatus {
	for _, m := range c {
		if st, ok := m.Match(code, text); ok {
			return st
		}
	}
	return models.DeliveryPending
}

// CodeTable matches carrier status codes exactly (case-insensitive).
type CodeTable map[string]models.DeliveryStatus

func (t CodeTable) Match(code, _ string) (models.DeliveryStatus, bool) {
	st, ok := t[strings.ToUpper(strings.TrimSpace(code))]
	return st, ok
}

// TextTable matches a whole carrier label after folding, e.g. "Livré payé".
type TextTable map[string]models.DeliveryStatus

func (t TextTable) Match(_, text string) (models.DeliveryStatus, bool) {
	f := Fold(text)
	for k, st := range t {
		if Fold(k) == f {
			return st, true
		}
	}
	return "", false
}

// PhraseOverride forces a status whenever the text contains the phrase,
// whatever the code says.
type PhraseOverride struct {
	Phrase string
	Status models.DeliveryStatus
}

func (o PhraseOverride) Match(_, text string) (models.DeliveryStatus, bool) {
	if strings.Contains(Fold(text), Fold(o.Phrase)) {
		return o.Status, true
	}
	return "", false
}

// Generic falls back to Normalize and always matches.
type Generic struct{}

func (Generic) Match(_, text string) (models.DeliveryStatus, bool) {
	return Normalize(text), true
}

// ChargesPaidOverride is shared by every carrier chain.
var ChargesPaidOverride = PhraseOverride{Phrase: PhraseChargesPaid, Status: models.DeliveryDelivered}
