package main

import (
	"context"
	"log"
	"os"

	"github.com/h0pes/screw.nvim-sub001/pkg/screwnote"
)

func main() {
	if err := screwnote.Main(context.Background(), os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
