package main

import (
	"price-notifier/internal/cli"
)

func main() {
	cli.Execute()
}
