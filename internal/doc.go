// Package internal contains the implementation packages of mermaidlive.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - preview: Debouncer, validity gate, render coordinator and state
//     publisher, driven by a single event loop (Pipeline)
//   - cache: Fingerprints and artifact stores (unbounded and LRU)
//   - renderer: Mermaid CLI (mmdc) invocation and SVG inspection
//   - config: Configuration loading and validation with Viper
//   - watcher: File monitoring that feeds a diagram file into the pipeline
//   - server: HTTP routes, preview page and security middleware
//   - websocket: Browser connections, broadcast and rate limiting
//   - errors: Structured errors and Mermaid error-location parsing
//   - logging: Structured logging on top of log/slog
//   - validation: Path, origin, URL and input checks
//   - version: Build information
//
// # Data Flow
//
// Editor text (browser, HTTP API or a watched file) is submitted to the
// pipeline as a numbered snapshot. The debouncer waits for a quiet period,
// the gate drops obviously incomplete fragments, the cache answers
// unchanged source, and the coordinator renders the rest with mmdc. Every
// state change is published to subscribers; the server forwards them to
// connected browsers. A result is only displayed while its snapshot is the
// latest one.
package internal
