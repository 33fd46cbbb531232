package main

import "github.com/cloudreve/davserver/cmd"

func main() {
	cmd.Execute()
}
