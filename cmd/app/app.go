package main

import "github.com/lumora-tech/visibility-engine/internal/app"

func main() {
	app.Run()
}
