package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

// UncategorizedLabel is both the display name for transactions without a
// category and the reserved category-selector value that filters for them.
const UncategorizedLabel = "Uncategorized"

// CategoryAll is the category-selector value meaning "no category filter".
const CategoryAll = "all"

type (
	TransactionType string

	Category struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Color string `json:"color,omitempty"`
	}

	Transaction struct {
		ID       int64           `json:"id"`
		Title    string          `json:"title"`
		Amount   Money           `json:"amount"`
		Type     TransactionType `json:"type"`
		Date     time.Time       `json:"date"`
		Note     *string         `json:"note"`
		UserID   int64           `json:"-"`
		Category *Category       `json:"category"`
	}

	// ChartSlice is one group of the per-category expense aggregation.
	ChartSlice struct {
		Name  string `json:"name"`
		Value Money  `json:"value"`
	}

	// TransactionFilter carries the list-operation filter facet.
	TransactionFilter struct {
		Query    string
		Category string
	}
)

// Error taxonomy. The HTTP layer maps these to statuses; anything that does
// not match is treated as an internal failure.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)

var (
	ErrEmptyTitle    = fmt.Errorf("%w: title is required", ErrInvalidArgument)
	ErrTitleTooLong  = fmt.Errorf("%w: title too long (max 200 characters)", ErrInvalidArgument)
	ErrInvalidAmount = fmt.Errorf("%w: amount must be a positive number", ErrInvalidArgument)
	ErrInvalidType   = fmt.Errorf("%w: type must be INCOME or EXPENSE", ErrInvalidArgument)
)

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense:
		return true
	}
	return false
}

func (t Transaction) Validate() error {
	if len(strings.TrimSpace(t.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(t.Title) > 200 {
		return ErrTitleTooLong
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

// CategoryName returns the display name of the transaction's category,
// falling back to the uncategorized label for a null reference.
func (t Transaction) CategoryName() string {
	if t.Category == nil {
		return UncategorizedLabel
	}
	return t.Category.Name
}

// All reports whether the filter selects every category.
func (f TransactionFilter) All() bool {
	return f.Category == "" || f.Category == CategoryAll
}

// Uncategorized reports whether the filter selects the null-category group.
func (f TransactionFilter) Uncategorized() bool {
	return strings.EqualFold(f.Category, UncategorizedLabel)
}
