package main

import (
	"github.com/MeKo-Tech/dezoomify-go/cmd/dezoomify"
)

func main() {
	cmd.Execute()
}
