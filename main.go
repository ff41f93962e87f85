package main

import "github.com/genevanmeter/tbus/cmd"

func main() {
	cmd.Execute()
}
