package txtypes

import "fmt"

// InvalidTransactionKindError is returned when a transaction's "type" field
// is absent or not one of the recognized kinds.
type InvalidTransactionKindError struct {
	Kind string
}

func (e *InvalidTransactionKindError) Error() string {
	if e.Kind == "" {
		return "txtypes: missing transaction type"
	}
	return fmt.Sprintf("txtypes: invalid transaction kind %q", e.Kind)
}

// MissingRequiredFieldError is returned when a required field for the
// transaction's declared kind is absent.
type MissingRequiredFieldError struct {
	Kind  string
	Field string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("txtypes: transaction of kind %q missing required field %q", e.Kind, e.Field)
}

// Validate enforces the required-field table of spec §4.2. It is a pure
// function: no side effects, no network or disk access.
func Validate(tx *Transaction) error {
	kind := tx.Kind()
	if kind == "" || !recognizedKind(kind) {
		return &InvalidTransactionKindError{Kind: kind}
	}
	for _, field := range requiredFields[Kind(kind)] {
		if !tx.fields.Has(field) {
			return &MissingRequiredFieldError{Kind: kind, Field: field}
		}
	}
	return nil
}
