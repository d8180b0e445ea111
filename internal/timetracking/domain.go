package timetracking

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-pm/meridian-pm/internal/workflow"
)

// Timesheet is one person-week of recorded hours moving through the
// submit/validate lifecycle.
type Timesheet struct {
	ID        uuid.UUID       `json:"id"`
	ProjectID int64           `json:"project_id"`
	WeekStart time.Time       `json:"week_start"`
	Hours     float64         `json:"hours"`
	Note      string          `json:"note,omitempty"`
	Status    workflow.Status `json:"status"`
	OwnerID   int64           `json:"owner_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Entity projects the timesheet onto the workflow shape.
func (t Timesheet) Entity() workflow.Entity {
	return workflow.Entity{ID: t.ID, Status: t.Status, OwnerID: t.OwnerID}
}

// Expense is one claimed cost. IsChargeable steers the CONDITIONAL
// authority mode: chargeable expenses are validated by the customer,
// non-chargeable ones by the supplier.
type Expense struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    int64           `json:"project_id"`
	Description  string          `json:"description"`
	AmountCents  int64           `json:"amount_cents"`
	Currency     string          `json:"currency"`
	IsChargeable bool            `json:"is_chargeable"`
	Status       workflow.Status `json:"status"`
	OwnerID      int64           `json:"owner_id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// DisplayAmount is the locale-formatted amount, filled on reads.
	DisplayAmount string `json:"display_amount,omitempty"`
}

// Entity projects the expense onto the workflow shape.
func (e Expense) Entity() workflow.Entity {
	return workflow.Entity{ID: e.ID, Status: e.Status, OwnerID: e.OwnerID}
}

// formatAmount renders an amount in minor units with its currency
// symbol, falling back to the raw code when it is not a valid ISO 4217
// unit.
func formatAmount(amountCents int64, code string) string {
	printer := message.NewPrinter(language.English)
	unit, err := currency.ParseISO(code)
	if err != nil {
		return printer.Sprintf("%s %.2f", code, float64(amountCents)/100)
	}
	return printer.Sprint(currency.Symbol(unit.Amount(float64(amountCents) / 100)))
}
