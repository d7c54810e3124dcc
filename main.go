package main

import "github.com/nextlevelbuilder/rockgate/cmd"

func main() {
	cmd.Execute()
}
