package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"github.com/urfave/cli/v3"
)

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send command lines to a running server and print the replies",
		ArgsUsage: "COMMAND...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Server host",
				Value: "localhost",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Command server port",
				Value:   2402,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Reply timeout per command",
				Value: 30 * time.Second,
			},
		},
		Action: runSend,
	}
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	lines := cmd.Args().Slice()
	if len(lines) == 0 {
		return fmt.Errorf("no commands given")
	}

	addr := net.JoinHostPort(cmd.String("host"), strconv.Itoa(int(cmd.Int("port"))))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	failed, err := send(conn, lines, cmd.Duration("timeout"), newPrinter(os.Stdout))
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(lines))
	}
	return nil
}

// send writes each line and prints its reply. It returns the number of
// ERROR replies.
func send(conn net.Conn, lines []string, timeout time.Duration, p *printer) (int, error) {
	reader := bufio.NewReader(conn)
	failed := 0
	for _, line := range lines {
		if timeout > 0 {
			conn.SetDeadline(time.Now().Add(timeout))
		}
		if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
			return failed, fmt.Errorf("failed to send %q: %w", line, err)
		}
		reply, err := reader.ReadString('\n')
		if err != nil {
			return failed, fmt.Errorf("no reply to %q: %w", line, err)
		}
		reply = strings.TrimRight(reply, "\r\n")
		if strings.HasPrefix(reply, "ERROR") {
			failed++
		}
		p.print(reply)
	}
	return failed, nil
}

type printer struct {
	out      *termenv.Output
	okStyle  termenv.Style
	errStyle termenv.Style
}

func newPrinter(w io.Writer) *printer {
	out := termenv.NewOutput(w)
	return &printer{
		out:      out,
		okStyle:  out.String().Foreground(out.Color("2")),
		errStyle: out.String().Foreground(out.Color("1")).Bold(),
	}
}

func (p *printer) print(reply string) {
	status, rest, _ := strings.Cut(reply, " ")
	switch status {
	case "OK":
		status = p.okStyle.Styled(status)
	case "ERROR":
		status = p.errStyle.Styled(status)
	}
	if rest != "" {
		fmt.Fprintln(p.out, status+" "+rest)
		return
	}
	fmt.Fprintln(p.out, status)
}
