package crdt

import "fmt"

// UnknownOperationError is returned by ApplyOp/CreateOp for an operation
// name the variant does not recognise.
type UnknownOperationError struct {
	Type Type
	Op   string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("crdt: unknown operation %q for type %s", e.Op, e.Type)
}

// InvalidPayloadError is returned when an operation's data is missing a
// required field or the field has the wrong shape (e.g. a negative
// G-Counter amount).
type InvalidPayloadError struct {
	Type   Type
	Op     string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("crdt: invalid payload for %s.%s: %s", e.Type, e.Op, e.Reason)
}

// StateTypeMismatchError is returned by Merge when the incoming snapshot's
// type or id does not match the receiver's.
type StateTypeMismatchError struct {
	ExpectedType Type
	ExpectedID   string
	GotType      Type
	GotID        string
	Reason       string
}

func (e *StateTypeMismatchError) Error() string {
	if e.Reason != "" {
		return "crdt: state type mismatch: " + e.Reason
	}
	return fmt.Sprintf("crdt: state type mismatch: expected (%s,%s), got (%s,%s)",
		e.ExpectedType, e.ExpectedID, e.GotType, e.GotID)
}

// InvariantViolatedError is returned by Validate when a §3 invariant does
// not hold for the current state.
type InvariantViolatedError struct {
	Type   Type
	ID     string
	Reason string
}

func (e *InvariantViolatedError) Error() string {
	return fmt.Sprintf("crdt: invariant violated for %s %q: %s", e.Type, e.ID, e.Reason)
}

// OutOfRangeError is returned by RGA operations that reference a visible
// index outside [0, length].
type OutOfRangeError struct {
	Index  int
	Length int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("crdt: index %d out of range [0,%d]", e.Index, e.Length)
}

// FactoryMissingError is returned by OR-Map's add operation when no CRDT
// factory was configured to construct the inner value.
type FactoryMissingError struct {
	Key string
}

func (e *FactoryMissingError) Error() string {
	return fmt.Sprintf("crdt: no factory configured to create inner CRDT for key %q", e.Key)
}
