package main

import (
	"os"

	"github.com/gogotex/gogotex/backend/go-datastore/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
