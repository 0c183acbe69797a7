package main

import (
	"math/rand"
	"time"

	"github.com/luma/lrcp/cmd"
)

func main() {
	// Random session ids for the client command
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}
