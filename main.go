package main

import "github.com/duetchat/duet/cmd"

func main() {
	cmd.Execute()
}
