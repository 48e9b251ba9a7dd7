// Package tlsutil provides centralized TLS configuration, supplying
// hardened settings (TLS 1.2+, AEAD cipher suites only) to the gateway's
// outbound HTTP clients and its inbound HTTPS listener.
package tlsutil
