// Command demoserver starts a local stand-in for the Mozilla Observatory API.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
//
// Point webaudit at it with
// WEBAUDIT_MODULES_MOZILLA_OBSERVATORY_BASE_URL=http://localhost:9999/api/v1
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/raysh454/webaudit/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}

	fmt.Println("===========================================")
	fmt.Println("   webaudit demo Observatory")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Every host starts at posture version 1 (grade F).")
	fmt.Println("POST /demo/set-version host=<host>&version=<1-3> or")
	fmt.Println("POST /demo/bump-all to harden hosts between scans.")
	fmt.Printf("Scans of %v fail without a status code.\n", cfg.FailHosts)
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
