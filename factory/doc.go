// Package factory dispatches aggregate lifecycle operations to registered
// handlers.
//
// A Factory carries the create, fetch, insert, update and delete handlers
// for one aggregate type. Create and fetch handlers are selected by their
// criteria type, so an aggregate can expose several load paths side by
// side. Save routes to insert, update or delete based on the aggregate's
// lifecycle flags and returns the persisted aggregate marked old and
// unmodified.
//
// Handlers run locally by default. Registrations marked WithRemote are
// serialized through an Executor as snapshot envelopes; the Dispatcher is
// the serving side, invoking the same registered handlers, and Loopback
// connects the two in process. Real transports decode their own request
// envelopes and hand them to Dispatcher.Dispatch.
package factory
