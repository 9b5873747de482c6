package main

import "github.com/vibast-solutions/ms-go-lavago-payments/cmd"

func main() {
	cmd.Execute()
}
