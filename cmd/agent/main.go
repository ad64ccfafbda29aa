package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/taskmesh/backend/internal/agent"
	"github.com/taskmesh/backend/internal/log"
	"github.com/taskmesh/backend/internal/models"
)

var CLI struct {
	APIURL          string        `help:"TaskMesh API base URL" env:"TASKMESH_API_URL" default:"http://localhost:3001"`
	Wallet          string        `help:"Agent wallet address used to identify, bid and complete" env:"AGENT_WALLET" required:""`
	Interval        time.Duration `help:"Polling interval" env:"AGENT_INTERVAL" default:"8s"`
	CompletionDelay time.Duration `help:"Delay before completing a claimed task" env:"AGENT_COMPLETION_DELAY" default:"10s"`
	Mode            string        `help:"assign claims tasks directly; bid enters the auction" env:"AGENT_MODE" default:"assign" enum:"assign,bid"`
	BidFraction     float64       `help:"Fraction of the bounty to offer in bid mode" env:"AGENT_BID_FRACTION" default:"0.9"`
	CallbackURL     string        `help:"Webhook to be told when a bid wins (bid mode)" env:"AGENT_CALLBACK_URL"`
	LogLevel        string        `help:"Log level (debug, info, warn, error)" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("taskmesh-agent"),
		kong.Description("Polling agent that claims or bids on open TaskMesh tasks."),
		kong.UsageOnError(),
	)

	log.SetLevel(CLI.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wallet, err := models.ParseWallet(CLI.Wallet)
	if err != nil {
		log.Fatalf(ctx, "Invalid --wallet: %v", err)
	}
	if !wallet.IsAddress() {
		log.Warnf(ctx, "Wallet %s is not a 0x-prefixed 20-byte address", wallet)
	}

	a, err := agent.New(ctx, agent.NewClient(CLI.APIURL, wallet), agent.Config{
		Interval:        CLI.Interval,
		CompletionDelay: CLI.CompletionDelay,
		Mode:            agent.Mode(CLI.Mode),
		BidFraction:     CLI.BidFraction,
		CallbackURL:     CLI.CallbackURL,
	})
	if err != nil {
		log.Fatalf(ctx, "Failed to create agent: %v", err)
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf(ctx, "Agent stopped with error: %v", err)
	}

	log.Infof(context.Background(), "Shutting down gracefully...")
	a.Shutdown()
	log.Infof(context.Background(), "Agent shutdown complete")
}
