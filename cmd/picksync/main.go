// Command picksync drives the picklist sync cache against MongoDB.
//
// Configuration comes from PICKSYNC_* environment variables (see config.go);
// flags override them.
package main

import (
	"fmt"
	"os"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(&cfg, newApp).Execute(); err != nil {
		os.Exit(1)
	}
}
