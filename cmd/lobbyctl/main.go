// cmd/lobbyctl/main.go
package main

import (
	"github.com/quorumgames/lobbyd/internal/cli"
)

func main() {
	cli.Execute()
}
