package migrator

import "fmt"

// Kind classifies why a migration failed.
type Kind int

const (
	// InvalidSchema means the target schema failed validation or failed to
	// load into the pristine database.
	InvalidSchema Kind = iota
	// DeletionRefused means a table or column would be dropped but
	// allowDeletions was false.
	DeletionRefused
	// ForeignKeyViolation means foreign_key_check found violations after
	// applying the plan.
	ForeignKeyViolation
	// UnsafePragma means a pragma outside the whitelist was requested.
	UnsafePragma
	// ExecutionFailure means a statement failed against the live database.
	ExecutionFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidSchema:
		return "InvalidSchema"
	case DeletionRefused:
		return "DeletionRefused"
	case ForeignKeyViolation:
		return "ForeignKeyViolation"
	case UnsafePragma:
		return "UnsafePragma"
	case ExecutionFailure:
		return "ExecutionFailure"
	default:
		return "Unknown"
	}
}

// Error is the error type every failure from Migrate is wrapped in.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("migrator: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("migrator: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidSchema(msg string, err error) *Error {
	return &Error{Kind: InvalidSchema, Message: msg, Err: err}
}

func deletionRefusedTables(names []string) *Error {
	return &Error{Kind: DeletionRefused, Message: fmt.Sprintf("Refusing to delete tables %v", names)}
}

func deletionRefusedColumns(table string, cols []string) *Error {
	return &Error{
		Kind:    DeletionRefused,
		Message: fmt.Sprintf("Refusing to remove columns %v from table %s", cols, table),
	}
}

func foreignKeyViolation(n int) *Error {
	return &Error{Kind: ForeignKeyViolation, Message: fmt.Sprintf("Would fail foreign_key_check (%d violation(s))", n)}
}

func unsafePragma(name string) *Error {
	return &Error{Kind: UnsafePragma, Message: fmt.Sprintf("Unsafe pragma name: %s", name)}
}

func executionFailure(step string, err error) *Error {
	return &Error{Kind: ExecutionFailure, Message: step, Err: err}
}
