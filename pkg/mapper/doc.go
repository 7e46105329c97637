// Package mapper extracts single values from nested data-service
// responses using path expressions such as "user.profile.email",
// "orders[0].amount" or "data.users[id=123].name".
//
// Extraction works uniformly over maps, slices and typed structs via a
// small accessor-adapter layer; struct member discovery is memoized for
// the process lifetime. Every failure is a structured MappingError that
// names the subpath that failed and suggests a fix.
package mapper
