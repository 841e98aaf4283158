// Package main is the entry point for the CloakTalk load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Connection saturation test, opens N idle connections
//   - chat:     Full chat lifecycle (join queue, match, exchange messages, end)
//
// Both scenarios assume the target database is seeded with users named
// <user-prefix>0 .. <user-prefix>N-1, all assigned to the same organization
// with an open access window.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test, opens N idle connections")
	fmt.Println("  chat        Full chat lifecycle: join queue, match, exchange messages, end")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
