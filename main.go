package main

import "github.com/certusone/wormhole/messenger/cmd"

func main() {
	cmd.Execute()
}
