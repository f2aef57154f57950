package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/newsgraph/internal/cli"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(context.Background(), version); err != nil {
		fmt.Fprintf(os.Stderr, "newsgraph: %v\n", err)
		os.Exit(1)
	}
}
