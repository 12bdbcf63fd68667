package main

import "github.com/praekeltfoundation/vumi-telegram/cmd"

func main() {
	cmd.Execute()
}
