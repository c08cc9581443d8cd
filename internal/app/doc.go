// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the runner lifecycle: storage selection,
// the HTTP surface, the health check server and the optional relay
// heartbeat. It is decoupled from any specific entrypoint like a CLI.
package app
