// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It is the producer and operator surface of vidgen:
// clients submit generation requests and poll their status, operators inspect
// and replay dead-lettered jobs.
package api
