package main

import "github.com/airbnb/appear/cmd"

func main() {
	cmd.Execute()
}
