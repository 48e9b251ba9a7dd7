/*
Package server provides HTTP/HTTPS server lifecycle management: non-blocking
startup, graceful shutdown, and OS signal handling.

# Overview

Manager wraps net/http.Server and unifies listening, serving, shutdown, and
error propagation behind one small API. It supports both plain HTTP and TLS
startup modes, with built-in SIGINT/SIGTERM handling for production-grade
graceful stops.

# Core types

  - Manager: the HTTP server manager. Holds the http.Server, its
    net.Listener, and an async error channel; exposes
    Start/StartTLS/Shutdown/WaitForShutdown as its lifecycle methods.
  - Config: server configuration — listen address, read/write timeouts,
    idle timeout, max header size, and graceful shutdown timeout.

# Capabilities

  - Non-blocking startup: Start/StartTLS run the server on a background
    goroutine; the caller's goroutine is never blocked.
  - Graceful shutdown: Shutdown drains in-flight requests and releases
    connections within the configured timeout.
  - Signal handling: WaitForShutdown listens for SIGINT/SIGTERM and
    triggers the graceful shutdown path automatically.
  - Error propagation: Errors() returns an async channel callers can
    monitor for server-level failures.
  - TLS support: StartTLS takes a certificate and key file.
  - Status queries: IsRunning/Addr report current run state and the
    configured listen address.
*/
package server
