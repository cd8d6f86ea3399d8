// Package metadata holds the versioned cluster catalogs (tables, security, regions,
// topology) and the transactional protocol tasks use to change them.
//
// Every aggregate carries a sequence number that grows by one per committed change.
// Aggregates are read fresh from the store for every transaction; tasks never keep
// a copy between job invocations.
//
// Update implements the read-modify-write-broadcast protocol. The mutation decides
// between three outcomes: the desired state already holds (ErrNoChange, success
// without a commit), the request conflicts with a different entity (an *Error
// such as AlreadyExists or NotFound), or it changes the aggregate, which is then
// committed and broadcast.
//
// Names are compared case-insensitively everywhere. Entities carry uuid ids so a
// task can tell an entity it was built for from a recreated one with the same name.
package metadata
