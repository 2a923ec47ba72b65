// Package island implements the replicated deterministic execution engine.
//
// An Island is one replica of a shared simulation. Model code runs only in
// Model realm, entered by the island when a message from its virtual-time
// queue comes due. Messages are ordered by (time, seq); the reflector orders
// network input, and models schedule their own work with
// ModelContext.Future. Because every replica executes the same messages in
// the same order from the same snapshot, every replica reaches the same
// state.
//
// View code observes models from View realm. It receives model events through
// ProcessModelViewEvents and changes models only by sending messages through
// the reflector (ViewContext.Send).
//
// The Model/View realm split is enforced at runtime by a per-island guard:
// contexts are capabilities valid only for the realm entry that created them.
package island
