/*
Package handlers implements every HTTP endpoint the gateway exposes: chat
completion proxying, model listing, health/readiness, stats/history, and
admin backend management.

# Overview

Each handler follows the standard net/http interface and renders the
gateway's OpenAI-compatible response shapes, falling back to the shared
error envelope (api.ErrorEnvelope) on failure.

# Core types

  - ChatHandler     — routes a chat completion through the reconciler
    pipeline and proxy engine, synchronously or via SSE streaming, queueing
    on saturation.
  - ModelsHandler   — lists every model of every registered backend,
    whatever its current health.
  - HealthHandler   — liveness/readiness/version endpoints.
  - StatsHandler    — aggregate runtime stats, budget usage, and recent
    request history.
  - BackendsHandler — admin add/remove of backends at runtime.
  - ResponseWriter  — wraps http.ResponseWriter to capture the status code
    written, for logging and metrics.
*/
package handlers
