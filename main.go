package main

import "github.com/Bitlatte/contentpages/cmd"

func main() {
	cmd.Execute()
}
