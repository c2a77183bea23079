// Command client joins a lobby and reads commands from stdin:
//
//	start <n>   ask the lobby to start level n
//	leave       leave the lobby
//	quit        close the connection and exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/DoyleJ11/dungeon-lobby/internal/client"
	"github.com/DoyleJ11/dungeon-lobby/internal/protocol"
	"github.com/DoyleJ11/dungeon-lobby/internal/server"
)

var (
	infoColor  = color.New(color.FgCyan)
	levelColor = color.New(color.FgGreen, color.Bold)
	errColor   = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		errColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: client <client_id> [host] [port]")
	}
	clientID := args[0]
	host := "localhost"
	if len(args) > 1 {
		host = args[1]
	}
	port := server.DefaultPort
	if len(args) > 2 {
		p, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad port %q: %w", args[2], err)
		}
		port = p
	}

	c := client.New(host, port, printMessage)
	if err := c.Connect(context.Background()); err != nil {
		return err
	}
	defer c.Close()

	if err := c.Join(clientID); err != nil {
		return err
	}
	infoColor.Printf("connected to %s as %s\n", c.Addr(), clientID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-c.Done():
			infoColor.Println("connection closed")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleCommand(c, line)
			if err != nil {
				errColor.Println(err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleCommand(c *client.Client, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "start":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: start <level>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, fmt.Errorf("bad level %q", fields[1])
		}
		return false, c.StartLevel(n)
	case "leave":
		return false, c.Leave()
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (start <n>, leave, quit)", fields[0])
	}
}

func printMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Joined:
		infoColor.Printf("joined as %s\n", m.ClientID)
	case protocol.LobbyUpdate:
		infoColor.Printf("lobby: %s\n", strings.Join(m.Clients, ", "))
	case protocol.LevelStarted:
		levelColor.Printf("level %d started with %d players\n", m.Level, m.PlayerCount)
		for _, mob := range m.Mobs {
			dimColor.Printf("  %-12s hp=%d atk=%d def=%d crystals=%d\n",
				mob.Name, mob.HP, mob.Attack, mob.Defense, mob.CrystalDrop)
		}
	case protocol.Error:
		errColor.Printf("server error: %s\n", m.Message)
	default:
		dimColor.Printf("%s\n", msg.Type())
	}
}
