// Package domainspec parses the domain declarations containers carry in
// their environment.
//
// A declaration is a whitespace-separated list of tokens:
//
//	example.org                          http=80 and https=443
//	admin.example.org:https              https=443 only
//	app.example.org:http=8080:https=8043 both, explicit ports
//
// Parsing is pure: the same input always yields the same specs in the same
// order.
package domainspec
