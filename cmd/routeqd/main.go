// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

// Command routeqd runs the asynchronous route-optimization pipeline:
// queue workers, the route cache, and an optional live dashboard.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "routeqd",
	Short: "Asynchronous route-optimization pipeline",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "routeqd.yaml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
