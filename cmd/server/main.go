package main

import "github.com/brandon/mailsync/internal/app"

var version = "dev"

func main() {
	app.Execute(version)
}
