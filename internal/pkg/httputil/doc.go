// Package httputil holds the JSON response and error envelope helpers
// shared by every API handler. Handlers never touch http.ResponseWriter
// directly; one envelope shape keeps clients and error mapping uniform.
package httputil
