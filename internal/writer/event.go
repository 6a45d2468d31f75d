package writer

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/model"
)

// Event is one business event to commit: a milk collection, a sale or a
// payment.
type Event struct {
	Type      model.EntityType `json:"type"`
	AccountID string           `json:"account_id"`
	// Kind defaults per type: collections credit the farmer, sales and
	// payments debit the account.
	Kind   model.Kind      `json:"kind,omitempty"`
	Amount decimal.Decimal `json:"amount"`

	// Quantity is litres for collections and units for sales. Required and
	// positive for collections.
	Quantity decimal.Decimal `json:"quantity"`
	Fat      decimal.Decimal `json:"fat"`
	SNF      decimal.Decimal `json:"snf"`
	Shift    string          `json:"shift,omitempty"`
	Product  string          `json:"product,omitempty"`

	PaymentMode string         `json:"payment_mode,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	OperatorID  string         `json:"operator_id,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
}

// DefaultKind returns the ledger direction for events of type t.
func DefaultKind(t model.EntityType) model.Kind {
	if t == model.EntityCollection {
		return model.KindCredit
	}
	return model.KindDebit
}

// ledgerEventTypes are the entity types that produce a ledger entry.
var ledgerEventTypes = map[model.EntityType]bool{
	model.EntityCollection: true,
	model.EntitySale:       true,
	model.EntityPayment:    true,
}

// validate reports every missing or malformed field at once. A bad amount on
// its own is an invalid amount error; next to other bad fields it is listed
// as the "amount" field.
func (e Event) validate(op string) error {
	var fields []string
	if !ledgerEventTypes[e.Type] {
		fields = append(fields, "type")
	}
	if e.AccountID == "" {
		fields = append(fields, "account_id")
	}
	if e.Kind != "" && !e.Kind.Valid() {
		fields = append(fields, "kind")
	}
	if e.Priority != "" && !e.Priority.Valid() {
		fields = append(fields, "priority")
	}
	if e.Type == model.EntityCollection && !model.Round(e.Quantity).IsPositive() {
		fields = append(fields, "quantity")
	}
	if e.Quantity.IsNegative() || e.Fat.IsNegative() || e.SNF.IsNegative() {
		fields = append(fields, "quantity")
	}
	// The reversal marker is reserved for entries written by Reverse.
	if strings.HasPrefix(e.Reference, reversalPrefix) {
		fields = append(fields, "reference")
	}
	amountOK := model.Round(e.Amount).IsPositive()
	if len(fields) > 0 {
		if !amountOK {
			fields = append(fields, "amount")
		}
		return model.NewValidationError(op, dedupe(fields)...)
	}
	if !amountOK {
		return model.NewInvalidAmountError(op, e.Amount.String())
	}
	return nil
}

// attributes returns the event-specific fields carried in the sync payload
// next to the ledger entry.
func (e Event) attributes() map[string]any {
	attrs := map[string]any{"type": string(e.Type)}
	if !e.Quantity.IsZero() {
		attrs["quantity"] = e.Quantity
	}
	if !e.Fat.IsZero() {
		attrs["fat"] = e.Fat
	}
	if !e.SNF.IsZero() {
		attrs["snf"] = e.SNF
	}
	if e.Shift != "" {
		attrs["shift"] = e.Shift
	}
	if e.Product != "" {
		attrs["product"] = e.Product
	}
	return attrs
}

func dedupe(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
