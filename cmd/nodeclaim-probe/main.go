package main

import (
	"fmt"
	"os"

	"github.com/tendant/nodeclaim/internal/probecli"
)

func main() {
	if err := probecli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
