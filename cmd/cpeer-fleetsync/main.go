package main

import (
	"github.com/autopeer-io/fleetsync/cmd/cpeer-fleetsync/app"
)

func main() {
	app.NewApp().Run()
}
