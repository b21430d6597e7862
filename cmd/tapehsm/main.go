package main

import "github.com/materials-commons/tapehsm/cmd/tapehsm/cmd"

func main() {
	cmd.Execute()
}
