package carrier

import (
	"strings"
	"unicode"

	"github.com/BearBump/OrderDesk/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PhraseChargesPaid is reported by Aramex once the consignee paid and took the parcel.
const PhraseChargesPaid = "shipment charges paid"

type phraseRule struct {
	status  models.DeliveryStatus
	phrases []string
}

// Порядок важен: "non livre" и "undelivered" должны сработать раньше "livre" и "delivered",
// "en attente au depot" раньше "en attente", "en cours de livraison" раньше "en cours".
var genericRules = []phraseRule{
	{models.DeliveryDelivered, []string{PhraseChargesPaid}},
	{models.DeliveryReturned, []string{
		"returned to shipper", "return to shipper", "return to sender", "returned to sender",
		"returned to origin", "return to origin", "returned",
		"retour expediteur", "retourne", "retour",
	}},
	{models.DeliveryFailed, []string{
		"not delivered", "undelivered", "undeliverable", "delivery failed", "failed delivery",
		"delivery attempt", "unable to deliver",
		"non livre", "echec", "echoue", "tentative de livraison", "injoignable", "refuse",
	}},
	{models.DeliveryCancelled, []string{"cancelled", "canceled", "annule", "annulation"}},
	{models.DeliveryOutForDelivery, []string{
		"out for delivery", "with delivery courier", "en cours de livraison", "en livraison", "chez le livreur",
	}},
	{models.DeliveryAtDepot, []string{
		"held at", "at origin facility", "received at origin", "at depot",
		"au depot", "en attente au depot", "au magasin", "depot transporteur",
	}},
	{models.DeliveryDelivered, []string{
		"delivered", "collected by consignee", "livre", "livree", "remis au destinataire",
	}},
	{models.DeliveryPickedUp, []string{
		"picked up", "pickup", "collected", "enleve", "ramasse", "collecte",
	}},
	{models.DeliveryInTransit, []string{
		"in transit", "departed", "arrived at", "forwarded", "en transit", "en cours", "transfere", "expedie",
	}},
	{models.DeliveryPending, []string{
		"pending", "record created", "created", "en attente", "a verifier", "a enlever",
	}},
}

// Normalize maps free carrier text, French or English, to the canonical status.
// Unknown input yields PENDING; it never fails.
func Normalize(raw string) models.DeliveryStatus {
	s := Fold(raw)
	if s == "" {
		return models.DeliveryPending
	}
	if st := models.DeliveryStatus(strings.ToUpper(strings.ReplaceAll(s, " ", "_"))); st.Valid() {
		return st
	}
	for _, r := range genericRules {
		for _, p := range r.phrases {
			if strings.Contains(s, p) {
				return r.status
			}
		}
	}
	return models.DeliveryPending
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases, strips diacritics and collapses whitespace so that
// "Livrée", "LIVREE" and " livree " compare equal.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
