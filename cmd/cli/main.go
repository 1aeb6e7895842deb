package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/tunecast/distributor/config"
	"github.com/tunecast/distributor/delivery"
	deliveryredis "github.com/tunecast/distributor/delivery/redis"
)

/* cli - inspect the delivery state of a release from the terminal
 * Usage: go run cmd/cli/main.go <release_id>
 */

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: cli <release_id>")
		os.Exit(1)
	}
	releaseID := os.Args[1]

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx := context.Background()
	repo, err := deliveryredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer repo.Close(ctx)

	svc := delivery.NewService(repo, zerolog.Nop())
	status, err := svc.AggregateStatus(ctx, releaseID)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Printf("Release %s: %s\n", status.ReleaseID, status.State)
	for _, a := range status.Attempts {
		fmt.Printf("  %-16s %-16s attempts=%d", a.PartnerID, a.State, a.AttemptCount)
		if a.ExternalRef != "" {
			fmt.Printf(" ref=%s", a.ExternalRef)
		}
		if a.LastError != "" {
			fmt.Printf(" error=%q", a.LastError)
		}
		fmt.Println()
	}
}
