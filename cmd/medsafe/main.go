package main

import (
	"flag"
	"fmt"
	"os"

	"medsafe/config"
	"medsafe/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "medsafe.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := appbootstrap.Run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "medsafe: %v\n", err)
		os.Exit(1)
	}
}
