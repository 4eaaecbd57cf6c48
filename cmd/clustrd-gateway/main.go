package main

import (
	"log"
	"os"

	"github.com/clustrd/clustrd/gateway"
)

// clustrd-gateway speaks the frame protocol on stdio. Parents start it
// on intermediate nodes over ssh; it is not meant to be run by hand.
func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("clustrd-gateway: ")
	if err := gateway.Run(os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
