package main

import (
	"go.ntppool.org/srvmon/client/cmd"
	rootcmd "go.ntppool.org/srvmon/cmd"
)

func main() {
	rootcmd.Run(&cmd.ClientCmd{}, "srvmon-agent", "Server round-trip time monitor")
}
