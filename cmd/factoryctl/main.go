package main

import "factoryline.ai/internal/cli"

func main() {
	cli.Execute()
}
