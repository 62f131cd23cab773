package main

import "patient-assistant/internal/cli"

func main() {
	cli.Execute()
}
