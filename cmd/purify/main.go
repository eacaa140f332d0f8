// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Purify is a binary used to exercise and time distributed
// measurement operators on synthetic visibilities.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/purify/visconfig"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: purify [flags] command args...

Command purify builds measurement operators over synthetic
visibilities distributed across a group of ranks, as configured by
the "purify" instance of the profile in $HOME/.purify/config.

Available commands are:

	degrid
		Build a degridding operator, estimate its norm, and time
		its forward and adjoint applications.
	kmeans
		Cluster the w-terms of the visibilities into w-stacks.
	setup-ec2
		Set up AWS EC2 so that ranks can run on EC2 bigmachines.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}

	config := visconfig.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "setup-ec2":
		err = setupEC2(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", cmd)
		flag.Usage()
	case "degrid":
		err = degrid(config, args)
	case "kmeans":
		err = kmeans(config, args)
	}
	if err != nil {
		log.Error.Printf("%s: %v", cmd, err)
	}
	must.Nil(err, cmd)
}
