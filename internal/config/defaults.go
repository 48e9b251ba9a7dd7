package config

import "time"

// DefaultConfig returns the bottom layer of the config stack: sensible
// defaults for every section, composed the way each Default*Config builds
// one section at a time.
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Discovery:   DefaultDiscoveryConfig(),
		HealthCheck: DefaultHealthCheckConfig(),
		Routing:     DefaultRoutingConfig(),
		Backends:    nil,
		Logging:     DefaultLoggingConfig(),
		Queue:       DefaultQueueConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:                  "0.0.0.0",
		Port:                  8800,
		RequestTimeoutSeconds: 300,
		ShutdownTimeout:       15 * time.Second,
		BackendRateLimitRPS:   20,
		BackendRateLimitBurst: 40,
	}
}

func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Enabled:            true,
		ServiceTypes:       []string{"_ollama._tcp.local.", "_llm._tcp.local."},
		GracePeriodSeconds: 60,
	}
}

func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Enabled:           true,
		IntervalSeconds:   30,
		TimeoutSeconds:    5,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}
}

func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Strategy:   "smart",
		MaxRetries: 2,
		Weights:    ScoreWeights{Priority: 50, Load: 30, Latency: 20},
		Aliases:    map[string]string{},
		Fallbacks:  map[string][]string{},
		Policies:   nil,
		Budget: BudgetConfig{
			Enabled:         false,
			HardLimitAction: BudgetActionWarn,
		},
	}
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:                "info",
		Format:               "json",
		ComponentLevels:      map[string]string{},
		EnableContentLogging: false,
	}
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Enabled:        true,
		MaxSize:        256,
		MaxWaitSeconds: 30,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "nexus",
		SampleRate:  0.1,
	}
}
