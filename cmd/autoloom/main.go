package main

import (
	"errors"
	"fmt"
	"os"

	"autoloom/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		if errors.Is(err, config.ErrMissingCredential) {
			fmt.Fprintln(os.Stderr, gray("Set the key in the environment or in a .env file next to autoloom.yaml."))
		}
		os.Exit(1)
	}
}
