package main

import "github.com/zktools/zk-tools/cmd"

func main() {
	cmd.Execute()
}
