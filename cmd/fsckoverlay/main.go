package main

import (
	"os"

	"github.com/zhangyi089/overlayfs-progs/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)
	os.Exit(cli.Execute())
}
