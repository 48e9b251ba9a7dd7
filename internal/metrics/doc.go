/*
Package metrics provides the gateway's Prometheus metrics collector, covering
backend inventory, request throughput, queueing, and tokenizer usage.

# Overview

Collector registers and records every nexus_* series through promauto's
auto-registration, so callers never manage a Registry by hand. Every series
is namespaced and label-grouped for Grafana-style dashboards and alerting.

# Core types

  - Collector: holds the Counter/Histogram/Gauge vectors for every metric
    domain the gateway emits.

# Capabilities

  - Backend inventory: configured/healthy backend gauges by discovery
    source, distinct-models-available gauge.
  - Request metrics: total requests and end-to-end duration by
    backend/model/status.
  - Backend latency: histogram of EMA-tracked per-backend latency samples.
  - Queue: current depth across both priority lanes, in-flight pending
    count per backend.
  - Reconciler: per-stage and total pipeline duration.
  - Tokenizer: prompt tokens counted, broken down by tier and model.
*/
package metrics
