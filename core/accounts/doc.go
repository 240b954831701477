// Package accounts manages several credentials per provider with one active
// (default) account each.
//
// Secrets are written to a storage.Store under accounts/<provider>/<id>; the
// non-secret account records are kept as one JSON index under
// accounts/index. Listeners registered with Subscribe are told about every
// added, updated, removed and switched account.
package accounts
