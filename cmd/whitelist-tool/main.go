package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "whitelist-tool",
		Usage: "Build, prove and publish Merkle whitelists",
		Description: `Offline tooling for the release whitelist.

  aggregate  locker Locked logs -> reconciled whitelist file
  root       whitelist file -> Merkle root
  proof      one entry's proof
  proofs     every entry's proof
  verify     check a proof against a root
  funding    balance needed to pay every entry in both phases
  publish    sign and submit the whitelist root to a release server
  fund       sign and submit a funding credit to a release server`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			aggregateCommand,
			rootCommand,
			proofCommand,
			proofsCommand,
			verifyCommand,
			fundingCommand,
			publishCommand,
			fundCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
