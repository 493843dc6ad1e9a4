package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/logging"
)

func main() {
	n := flag.Int("n", 5, "fleet size")
	rounds := flag.Int("rounds", 20, "master kills")
	timeout := flag.Duration("timeout", 5*time.Second, "max failover time per round")
	level := flag.String("log", "warn", "log level")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *level, Service: "groupsim"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	start := time.Now()
	report, err := simulate(context.Background(), simConfig{
		Members: *n,
		Rounds:  *rounds,
		Timeout: *timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("Completed %d failovers across %d members in %s\n", report.Failovers, *n, time.Since(start))
	fmt.Printf("failover latency: min %s, avg %s, max %s\n", report.Min, report.Avg(), report.Max)
	fmt.Printf("double-master observations: %d\n", report.DoubleMasters)
}
