// Package server implements the HTTP API for monitoring and controlling
// downloads. It exposes health, stream management, configuration and
// statistics endpoints alongside the Prometheus metrics handler.
package server
