package main

import "github.com/materials-commons/tapehsm/cmd/tapehsmd/cmd"

func main() {
	cmd.Execute()
}
