// Package testutil provides fluent builders for constructing core domain
// objects in tests without repeating boilerplate. It is internal: only this
// module's test files may depend on it.
package testutil
