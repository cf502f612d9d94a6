package main

import (
	"os"

	keelcmder "github.com/papercomputeco/keel/cmd/keel"
)

func main() {
	cmd := keelcmder.NewKeelCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
