package main

import (
	"os"

	"github.com/PlasticDigits/tidaldex-broker/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
