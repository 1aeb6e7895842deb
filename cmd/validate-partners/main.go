package main

import (
	"fmt"
	"os"

	"github.com/tunecast/distributor/partner"
)

/* validate-partners - Standalone CLI tool to validate partners.yaml
 * Usage: go run cmd/validate-partners/main.go [partners.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	partnersFile := "partners.yaml"
	if len(os.Args) > 1 {
		partnersFile = os.Args[1]
	}

	fmt.Printf("Validating partners file: %s\n\n", partnersFile)

	registry := partner.NewRegistry()
	if err := registry.Load(partnersFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	partners := registry.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d partner(s):\n", len(partners))

	for i, p := range partners {
		fmt.Printf("\n%d. Partner: %s\n", i+1, p.ID)
		fmt.Printf("   Name:            %s\n", p.Name)
		fmt.Printf("   Protocol:        %s\n", p.Protocol)
		fmt.Printf("   Endpoint:        %s\n", p.Endpoint)
		fmt.Printf("   Active:          %t\n", p.Active)
		fmt.Printf("   Max Concurrency: %d\n", p.MaxConcurrency)
		fmt.Printf("   Max Retries:     %d\n", p.Retry.MaxRetries)
		fmt.Printf("   Base Interval:   %s\n", p.Retry.BaseInterval)
		fmt.Printf("   Max Interval:    %s\n", p.Retry.MaxInterval)
	}

	fmt.Printf("\n✓ All partners are valid!\n")
	os.Exit(0)
}
