// Command ledger-config validates a deployment configuration and prints the
// parameters derived from it: metadata of both ledgers and the storage
// bounds an account will face.
package main

import (
	"flag"
	"fmt"
	"log"

	tokenledger "github.com/dohalee/token-ledger"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML deployment configuration")

	flag.Parse()

	if *configPath == "" {
		log.Fatal("missing config path")
	}

	cfg, err := tokenledger.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	bounds, err := tokenledger.DeriveBounds(cfg)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("contract account:   %s\n", cfg.ContractAccount)
	fmt.Printf("owner account:      %s\n", cfg.OwnerAccount)
	fmt.Printf("total supply:       %s\n", cfg.TotalSupply)
	fmt.Printf("fungible token:     %s (%s), %d decimals\n",
		cfg.Fungible.Name, cfg.Fungible.Symbol, cfg.Fungible.Decimals)
	fmt.Printf("token collection:   %s (%s)\n", cfg.NonFungible.Name, cfg.NonFungible.Symbol)
	fmt.Printf("cost per byte:      %s\n", cfg.CostPerByte)
	fmt.Printf("registration floor: %s\n", bounds.Min)
	fmt.Printf("escrow ceiling:     %s\n", bounds.Max)
	fmt.Printf("approval bound:     %d per token\n", cfg.MaxApprovals)
}
