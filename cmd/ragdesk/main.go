// Package main is the entry point for the ragdesk RAG service.
package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/ragdesk/ragdesk/cmd/ragdesk/app"
)

func main() {
	app.NewApp().Run()
}
