// Package agent implements the per-backend-kind protocol adapters: probing,
// model listing, and chat-completion dispatch against Ollama, vLLM,
// llama.cpp, LM Studio, OpenAI-compatible, Anthropic-compatible, and generic
// backends.
package agent

import (
	"net/http"

	"github.com/nexushq/nexus/internal/tlsutil"
)

// defaultIdleConnsPerHost bounds outbound connection reuse per backend,
// matching the gateway's shared-HTTP-client-pool contract (default 10).
const defaultIdleConnsPerHost = 10

// NewHTTPClient builds the shared, hardened outbound client used for every
// backend dispatch and health probe: the codebase's standard TLS-hardened
// transport (tlsutil.SecureTransport), narrowed to a bounded per-host idle
// pool. The client itself carries no Timeout — streaming responses can run
// far longer than any single request deadline — callers bound each call via
// context (request_timeout_seconds for proxied calls, timeout_seconds for
// health probes).
func NewHTTPClient() *http.Client {
	transport := tlsutil.SecureTransport()
	transport.MaxIdleConnsPerHost = defaultIdleConnsPerHost
	transport.MaxIdleConns = defaultIdleConnsPerHost * 16
	return &http.Client{Transport: transport}
}
