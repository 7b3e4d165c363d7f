package main

import (
	"context"

	"github.com/usedatabrew/klaviyo-source/internal/cli"
)

func main() {
	cli.Run(context.Background())
}
