// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command dispatchd runs the request-dispatch server core. Flag parsing,
// configuration loading and the version string itself are all explicitly
// out of scope for the core (spec.md §1); this is the minimal external
// collaborator that feeds it, using the standard flag package since no
// pack repo bundles a third-party flag library for a single-command daemon
// of this size (see SPEC_FULL.md's Configuration section).
package main

import (
	"flag"
	"fmt"
	"os"

	"code.hybscloud.com/dispatchd"
)

const versionString = "dispatchd/0.1.0"

func main() {
	var (
		iface     = flag.String("i", "0.0.0.0", "listen interface")
		port      = flag.Int("p", 9090, "listen port")
		searchers = flag.Int("s", 4, "number of search workers")
		updaters  = flag.Int("u", 4, "number of updater workers")
		logPath   = flag.String("l", "", "log file path (default: stderr)")
		stdio     = flag.Bool("stdio", false, "serve a single connection over stdin/stdout instead of TCP")
		version   = flag.Bool("v", false, "print version and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: dispatchd [-i host] [-p port] [-s n] [-u n] [-l file] [-stdio] [-v]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	if *searchers < 1 || *updaters < 1 {
		fmt.Fprintln(os.Stderr, "dispatchd: -s and -u must each be at least 1")
		os.Exit(1)
	}

	cfg := dispatchd.NewConfig(
		dispatchd.WithInterface(*iface),
		dispatchd.WithPort(*port),
		dispatchd.WithSearchers(*searchers),
		dispatchd.WithUpdaters(*updaters),
		dispatchd.WithLogPath(*logPath),
		dispatchd.WithStdio(*stdio),
		dispatchd.WithVersion(versionString),
	)

	ok, err := dispatchd.Run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %s\n", err)
	}
	if !ok {
		os.Exit(1)
	}
}
