// Package http contains the HTTP transport layer: chi handlers that
// translate between the REST/WebSocket surface and the services.
package http
