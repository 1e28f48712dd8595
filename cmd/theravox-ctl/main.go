package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"theravox/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: theravox-ctl [flags] start|stop|toggle|status|tts on|off|provider <id>")
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		args = []string{"toggle"}
	}
	req := ipc.Request{Cmd: args[0], Arg: strings.Join(args[1:], " ")}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.SendCommand(ctx, *socket, req)
	if err != nil {
		fmt.Println("theravox-daemon not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Println("error:", resp.Error)
		os.Exit(1)
	}

	if st := resp.Status; st != nil {
		fmt.Printf("phase:      %s\n", st.Phase)
		fmt.Printf("generation: %d\n", st.Generation)
		fmt.Printf("provider:   %s\n", st.Provider)
		fmt.Printf("tts:        %t\n", st.TTSEnabled)
		fmt.Printf("turns:      %d\n", st.Turns)
		if st.Transcript != "" {
			fmt.Printf("transcript: %s\n", st.Transcript)
		}
		if st.Reply != "" {
			fmt.Printf("reply:      %s\n", st.Reply)
		}
	}
}
