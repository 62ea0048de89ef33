package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"alfred/internal/config"
	"alfred/internal/ipc"
)

const usage = `usage: alfred-ctl [flags] <command> [arg]

commands:
  stop               silence Alfred and return to idle
  greet              speak the greeting
  hear <text>        handle text as if it was heard
  hear-file <path>   transcribe an audio file and handle it
  status             print the current state
  close-visual       dismiss the visual card

flags:
`

func main() {
	socket := cli.StringP("socket", "s", config.Default().IPCSocket, "Daemon control socket")
	timeout := cli.DurationP("timeout", "t", 2*time.Minute, "Reply timeout")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() < 1 {
		cli.Usage()
		os.Exit(2)
	}

	req := ipc.Request{Cmd: cli.Arg(0), Arg: strings.Join(cli.Args()[1:], " ")}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "alfred-daemon not running:", err)
		os.Exit(1)
	}
	if !reply.OK {
		fmt.Fprintln(os.Stderr, "error:", reply.Error)
		os.Exit(1)
	}

	if reply.Text != "" {
		fmt.Printf("heard: %s\n", reply.Text)
	}
	if req.Cmd == ipc.CmdStatus && len(reply.State) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, reply.State, "", "  "); err != nil {
			fmt.Println(string(reply.State))
			return
		}
		fmt.Println(out.String())
	}
}
