// Command arbengine is the cross-exchange arbitrage engine's entrypoint.
// It wires config -> exchange adapters -> hub -> resolver -> scanner ->
// taskmanager -> execution per spec.md §1's component list, following the
// teacher's cmd/tradsys/main.go subcommand-switch pattern.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

const (
	appName    = "arbengine"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := flag.CommandLine.String("config", "", "path to config.yaml (searches ./, ./config, /etc/arbiengine if empty)")
	flag.CommandLine.Parse(os.Args[2:])

	switch command {
	case "run":
		if err := runEngine(*configPath); err != nil {
			log.Fatalf("arbengine run: %v", err)
		}
	case "resolve-symbols":
		if err := runResolveSymbols(*configPath); err != nil {
			log.Fatalf("arbengine resolve-symbols: %v", err)
		}
	case "version":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("%s v%s\n", appName, appVersion)
	fmt.Printf("Usage: %s <command> [--config path]\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  run              - Run the arbitrage engine (scanner + task manager)")
	fmt.Println("  resolve-symbols  - Resolve configured pairs against live exchange metadata and exit")
	fmt.Println("  version          - Show version information")
	fmt.Println("  help             - Show this help message")
}

func printVersion() {
	fmt.Printf("%s v%s\n", appName, appVersion)
}
