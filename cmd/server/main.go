package main

import "github.com/iliyamo/slot-reservation/internal/cli"

func main() {
	cli.Execute()
}
