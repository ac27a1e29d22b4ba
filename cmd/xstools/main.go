package main

import "github.com/OpenTraceLab/xstools/cmd/xstools/cmd"

func main() {
	cmd.Execute()
}
