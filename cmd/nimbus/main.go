package main

import "github.com/nimbus-chat/nimbus/internal/cli"

func main() {
	cli.Execute()
}
