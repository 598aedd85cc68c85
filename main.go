package main

import "github.com/killallgit/episode-harvester/cmd"

func main() {
	cmd.Execute()
}
