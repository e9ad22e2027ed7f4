package main

import "primepulse/internal/cli"

func main() {
	cli.Execute()
}
