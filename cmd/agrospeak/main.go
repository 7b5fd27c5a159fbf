// AgroSpeak is a voice assistant daemon for Zambian farmers. It turns a
// spoken or typed question into an answer in the farmer's language, from
// local weather, soil and profile data or from a remote language model.
//
// Usage:
//
//	agrospeak serve [--config agrospeak.yaml]
//	agrospeak ask --language Bemba "Will it rain tomorrow?"
//	agrospeak classify "maize prices in Chipata"
//
// @title       AgroSpeak API
// @version     1.0
// @description Voice assistant for Zambian farmers: turns, history and language preference per device session.
// @BasePath    /
package main

import (
	"fmt"
	"os"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
