// Package validation checks configuration structs and declared host names.
//
// Struct tag validation uses go-playground/validator and reports fields by
// their configuration key. Cross-field rules use the collecting Validator.
//
//	v := validation.New()
//	v.Custom(interval < ttl, "reconcile.interval", "must be shorter than publish.ttl")
//	err := v.Validate()
package validation
