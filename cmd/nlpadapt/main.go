// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nlpadapt solves catalog problems and problem decks through the
// constraint mapping adapter.
package main

import (
	"os"

	log "github.com/golang/glog"
)

func main() {
	err := newRootCmd().Execute()
	log.Flush()
	if err != nil {
		os.Exit(1)
	}
}
