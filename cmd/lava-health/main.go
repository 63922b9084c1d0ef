package main

import "github.com/davidroman0O/dutssh/cmd"

func main() {
	cmd.Main(cmd.NewHealthCommand)
}
