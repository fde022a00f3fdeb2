// Package validation provides common validation utilities for configuration
// parameters across distcache.
//
// Every helper returns a *errors.ValidationError naming the module and field,
// so startup failures point at the exact setting that was rejected.
package validation
