package main

import (
	"log"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
