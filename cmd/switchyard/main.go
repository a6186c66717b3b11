package main

import "github.com/agusx1211/switchyard/internal/cli"

func main() {
	cli.Execute()
}
