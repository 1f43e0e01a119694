// Package main provides the entry point for dexsim.
// dexsim is an abstract interpreter for Dalvik bytecode methods.
//
// For the full CLI, use: go run ./cmd/dexsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("dexsim - Dalvik method abstract interpreter")
	fmt.Println("")
	fmt.Println("Usage: dexsim <command> [options] <method.json>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run        Explore every path of a method")
	fmt.Println("  disasm     Print the decoded instructions")
	fmt.Println("  config     Print or write the default explore configuration")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/dexsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/dexsim' instead.")
	}
}
