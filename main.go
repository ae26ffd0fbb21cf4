package main

import "github.com/saravenpi/supachat/cmd"

func main() {
	cmd.Execute()
}
