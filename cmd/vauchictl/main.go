// The entrypoint for the vauchictl CLI.
package main

import (
	"log"

	"github.com/vauchi-app/core/cmd/vauchictl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
