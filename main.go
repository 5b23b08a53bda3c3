package main

import "github.com/wentf9/xops-xfer/cmd"

func main() {
	cmd.Execute()
}
