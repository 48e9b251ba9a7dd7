// Command nexus runs the gateway: an OpenAI-compatible HTTP front door that
// routes chat-completion requests across heterogeneous local and cloud LLM
// backends.
//
// Usage:
//
//	nexus serve                    # start the gateway
//	nexus serve --config nexus.yaml
//	nexus version                  # print the build version
//	nexus health                   # check a running instance's /health
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		runServe(os.Args[1:])
		return
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Println("nexus " + version)
	case "health":
		runHealthCheck(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		runServe(os.Args[1:])
	}
}

func printUsage() {
	fmt.Println(`nexus - OpenAI-compatible LLM gateway

Usage:
  nexus serve [--config path]   start the gateway (default command)
  nexus version                 print the build version
  nexus health [--addr addr]    check a running instance's /health
`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to the gateway's YAML config file")
	_ = fs.Parse(args)

	gw, err := NewGateway(*configPath, version)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nexus: failed to initialize:", err)
		os.Exit(1)
	}

	if err := gw.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "nexus: server error:", err)
		os.Exit(1)
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8800", "base URL of the running gateway")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintln(os.Stderr, "nexus: health check failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "nexus: gateway reported status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("ok")
}
