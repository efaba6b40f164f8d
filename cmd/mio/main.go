package main

import "github.com/chadiek/mio/internal/cli"

func main() {
	cli.Execute()
}
