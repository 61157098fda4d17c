package main

import "github.com/Trustflow-Network-Labs/dht-get-peers/internal/cmd"

func main() {
	cmd.Execute()
}
