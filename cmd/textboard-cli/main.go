// Command textboard-cli is the interactive client (spec §5): a REPL
// built on liner that turns operator-friendly verbs into wire-protocol
// requests, plus a one-shot "-e" mode for scripting. The REPL and
// one-shot shapes follow minimega's miniclient.Conn.Attach and
// cmd/minimega/main.go's -e handling.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/BurningEnlightenment/uni-textboard/internal/config"
	"github.com/BurningEnlightenment/uni-textboard/internal/textclient"
)

var (
	f_host = flag.String("host", "localhost", "textboardd host")
	f_port = flag.Int("port", config.DefaultPort, "textboardd port")
	f_e    = flag.String("e", "", "execute a single command and exit")
)

func usage() {
	fmt.Println("textboard-cli -- interactive client for textboardd")
	fmt.Println("usage: textboard-cli [option]...")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("commands: list [n] | topic <name> | since <ts> | post <topic> <text> | quit")
}

func main() {
	flag.Usage = usage
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *f_host, *f_port)
	c, err := textclient.Dial(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	if *f_e != "" {
		if err := runCommand(c, *f_e); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	repl(c)
}

func repl(c *textclient.Client) {
	fmt.Println("connected; type a command, or 'quit' to exit")

	input := liner.NewLiner()
	defer input.Close()
	input.SetCtrlCAborts(true)

	for {
		line, err := input.Prompt("textboard> ")
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			fmt.Fprintln(os.Stderr, err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		input.AppendHistory(line)

		if line == "quit" || line == "disconnect" {
			break
		}

		if err := runCommand(c, line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// runCommand parses one operator-facing command and prints its
// result. Notifications, when any come back with the response, are
// printed after the command's own output.
func runCommand(c *textclient.Client, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	verb := fields[0]
	args := fields[1:]

	switch verb {
	case "list":
		n, hasLimit := 0, false
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("list: invalid count %q", args[0])
			}
			n, hasLimit = parsed, true
		}
		topics, notifications, err := c.List(n, hasLimit)
		if err != nil {
			return err
		}
		for _, t := range topics {
			fmt.Printf("%d %s\n", t.Latest, t.Name)
		}
		printNotifications(notifications)
		return nil

	case "topic":
		if len(args) != 1 {
			return fmt.Errorf("topic: usage: topic <name>")
		}
		blocks, notifications, err := c.Topic(args[0])
		if err != nil {
			return err
		}
		printBlocks(blocks)
		printNotifications(notifications)
		return nil

	case "since":
		if len(args) != 1 {
			return fmt.Errorf("since: usage: since <timestamp>")
		}
		ts, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("since: invalid timestamp %q", args[0])
		}
		blocks, notifications, err := c.Since(ts)
		if err != nil {
			return err
		}
		printBlocks(blocks)
		printNotifications(notifications)
		return nil

	case "post":
		if len(args) < 2 {
			return fmt.Errorf("post: usage: post <topic> <text>...")
		}
		topic := args[0]
		body := []string{strings.Join(args[1:], " ")}
		notifications, err := c.Post(topic, body)
		if err != nil {
			return err
		}
		printNotifications(notifications)
		return nil

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

func printBlocks(blocks [][]string) {
	for _, block := range blocks {
		if len(block) == 0 {
			continue
		}
		fmt.Println(block[0])
		for _, l := range block[1:] {
			fmt.Println("  " + l)
		}
	}
}

func printNotifications(notifications []textclient.TopicSummary) {
	if len(notifications) == 0 {
		return
	}
	fmt.Printf("-- %d topic(s) changed --\n", len(notifications))
	for _, n := range notifications {
		fmt.Printf("%d %s\n", n.Latest, n.Name)
	}
}
