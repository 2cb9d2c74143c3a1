package main

import "github.com/ihavespoons/ctxai/cmd"

func main() {
	cmd.Execute()
}
