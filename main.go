package main

import "dqwatch/internal/cli"

func main() {
	cli.Execute()
}
