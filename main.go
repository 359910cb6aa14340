//go:build !test

package main

import (
	"log"

	"github.com/vmxlab/hyperstone/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
