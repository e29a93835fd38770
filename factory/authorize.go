package factory

// Authorizer approves factory operations before their handlers run. The
// subject is the criteria for create and fetch operations and the
// aggregate for insert, update and delete. Implementations return
// ErrNotAuthorized, or an error wrapping it, to reject the operation.
type Authorizer interface {
	Can(op Op, subject any) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(op Op, subject any) error

var _ Authorizer = AuthorizerFunc(nil)

// Can implements the Authorizer interface.
func (fn AuthorizerFunc) Can(op Op, subject any) error {
	return fn(op, subject)
}
