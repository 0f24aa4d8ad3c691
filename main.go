package main

import (
	"os"

	"classicboard/service"
)

// exit is replaced in tests.
var exit = os.Exit

func main() {
	exit(service.Execute(os.Args[1:]))
}
