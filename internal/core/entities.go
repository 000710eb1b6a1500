package core

import (
	"encoding/json"
	"strings"
)

type (
	Subscription struct {
		ID        *int64    `json:"id,omitempty"`
		Name      string    `json:"name"`
		Amount    Money     `json:"amount"`
		Frequency Frequency `json:"frequency"`
		Category  string    `json:"category,omitempty"`
		Notes     string    `json:"notes,omitempty"`
	}

	Account struct {
		ID      *int64 `json:"id,omitempty"`
		Name    string `json:"name"`
		Balance Money  `json:"balance"` // may be negative
		Type    string `json:"type,omitempty"`
		Notes   string `json:"notes,omitempty"`
	}

	Income struct {
		ID        *int64    `json:"id,omitempty"`
		Source    string    `json:"source,omitempty"`
		Amount    Money     `json:"amount"`
		Frequency Frequency `json:"frequency"`
		Notes     string    `json:"notes,omitempty"`
	}

	Debt struct {
		ID             *int64 `json:"id,omitempty"`
		Name           string `json:"name"`
		Amount         Money  `json:"amount"`
		Balance        *Money `json:"balance,omitempty"`
		InterestRate   *Money `json:"interest_rate,omitempty"`
		MinimumPayment *Money `json:"minimum_payment,omitempty"`
		DueDate        string `json:"due_date,omitempty"`
		Notes          string `json:"notes,omitempty"`
	}

	WeightEntry struct {
		ID     *int64  `json:"id,omitempty"`
		Date   string  `json:"date"`
		Weight float64 `json:"weight"`
		Notes  string  `json:"notes,omitempty"`
	}

	Exercise struct {
		ID              *int64 `json:"id,omitempty"`
		Date            string `json:"date"`
		ExerciseType    string `json:"exercise_type"`
		DurationMinutes int    `json:"duration_minutes"`
		CaloriesBurned  *int   `json:"calories_burned,omitempty"`
		Notes           string `json:"notes,omitempty"`
	}

	Meal struct {
		ID          *int64 `json:"id,omitempty"`
		Date        string `json:"date"`
		MealType    string `json:"meal_type,omitempty"`
		Description string `json:"description"`
		Calories    *int   `json:"calories,omitempty"`
		Notes       string `json:"notes,omitempty"`
	}

	Goal struct {
		ID          *int64 `json:"id,omitempty"`
		Title       string `json:"title,omitempty"`
		Description string `json:"description,omitempty"`
		Deadline    string `json:"deadline,omitempty"`
		Completed   bool   `json:"completed"`
	}

	// BudgetCollections holds one collection per budget entity kind.
	BudgetCollections struct {
		Subscriptions []Subscription `json:"subscriptions"`
		Accounts      []Account      `json:"accounts"`
		Incomes       []Income       `json:"income"`
		Debts         []Debt         `json:"debts"`
	}

	// HealthCollections holds one collection per health entity kind.
	HealthCollections struct {
		Weights   []WeightEntry `json:"weight"`
		Exercises []Exercise    `json:"exercises"`
		Meals     []Meal        `json:"meals"`
		Goals     []Goal        `json:"goals"`
	}
)

// EffectiveBalance is the outstanding balance, falling back to the original
// amount when the server did not report one.
func (d Debt) EffectiveBalance() Money {
	if d.Balance != nil {
		return *d.Balance
	}
	return d.Amount
}

// UnmarshalJSON accepts both the canonical keys and the legacy
// "type"/"duration" keys of older health backends.
func (e *Exercise) UnmarshalJSON(b []byte) error {
	type canonical Exercise
	var aux struct {
		canonical
		LegacyType     *string `json:"type"`
		LegacyDuration *int    `json:"duration"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = Exercise(aux.canonical)
	if e.ExerciseType == "" && aux.LegacyType != nil {
		e.ExerciseType = *aux.LegacyType
	}
	if e.DurationMinutes == 0 && aux.LegacyDuration != nil {
		e.DurationMinutes = *aux.LegacyDuration
	}
	return nil
}

// UnmarshalJSON accepts the legacy "time" key for the meal type.
func (m *Meal) UnmarshalJSON(b []byte) error {
	type canonical Meal
	var aux struct {
		canonical
		LegacyTime *string `json:"time"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = Meal(aux.canonical)
	if m.MealType == "" && aux.LegacyTime != nil {
		m.MealType = *aux.LegacyTime
	}
	return nil
}

func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	return s.Amount.Validate()
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (i Income) Validate() error {
	return i.Amount.Validate()
}

func (d Debt) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	if d.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if d.DueDate != "" {
		return validateDate(d.DueDate)
	}
	return nil
}

func (w WeightEntry) Validate() error {
	if err := validateDate(w.Date); err != nil {
		return err
	}
	if w.Weight <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e Exercise) Validate() error {
	if err := validateDate(e.Date); err != nil {
		return err
	}
	if strings.TrimSpace(e.ExerciseType) == "" {
		return ErrEmptyName
	}
	if e.DurationMinutes < 0 {
		return ErrInvalidDuration
	}
	return nil
}

func (m Meal) Validate() error {
	if err := validateDate(m.Date); err != nil {
		return err
	}
	if strings.TrimSpace(m.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Title) == "" && strings.TrimSpace(g.Description) == "" {
		return ErrEmptyDescription
	}
	if g.Deadline != "" {
		return validateDate(g.Deadline)
	}
	return nil
}
