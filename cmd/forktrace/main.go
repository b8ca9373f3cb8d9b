package main

import (
	"os"

	"github.com/forktrace/forktrace/pkg/app"
)

func main() {
	os.Exit(app.Run())
}
