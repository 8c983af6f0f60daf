package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guard-project/guard/client"
)

const (
	EnvBrokerURL  = "GUARD_BROKER_URL"
	EnvListenAddr = "GUARD_CLIENT_LISTEN_ADDR"
	EnvConfigFile = "GUARD_CONFIG"
)

func defaulting(in, dft string) string {
	if in == "" {
		return dft
	}
	return in
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "guard.json"
	}
	return filepath.Join(home, ".guard.json")
}

func main() {
	api := &client.BrokerClient{
		Client:  &http.Client{Timeout: 30 * time.Second},
		BaseURL: defaulting(os.Getenv(EnvBrokerURL), "http://localhost:8000"),
	}
	ctrl, err := client.NewController(client.ControllerOpts{
		API:         api,
		ConfigPath:  defaulting(os.Getenv(EnvConfigFile), defaultConfigPath()),
		ListenAddr:  defaulting(os.Getenv(EnvListenAddr), "127.0.0.1:3000"),
		OpenBrowser: openBrowser,
		OnStatus:    func(s string) { fmt.Printf("* %s\n", s) },
		OnMessage:   func(content string) { fmt.Printf("message: %q\n", content) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := client.NewStatusPoller(api, 30*time.Second)
	poller.SetCallback(func(s client.HealthStatus) {
		if !s.BrokerUp || !s.GatewayUp {
			fmt.Printf("* broker up: %v, gateway up: %v\n", s.BrokerUp, s.GatewayUp)
		}
	})
	go poller.Run(ctx)
	defer poller.Stop()

	if err := ctrl.Resume(ctx); err != nil {
		fmt.Printf("* could not resume session, log in again: %s\n", err)
	}

	fmt.Println("commands: login, guilds, select <guild>, get, save <text>, reset, send <channel>, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); scanner.Scan(); fmt.Print("> ") {
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "login":
			if err := ctrl.Login(ctx); err != nil {
				fmt.Printf("login failed: %s\n", err)
			}
		case "guilds":
			printGuilds(ctrl)
		case "select":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("usage: select <guild>")
				continue
			}
			if err := ctrl.SelectGuild(id); err != nil {
				fmt.Printf("%s\n", err)
			}
		case "get":
			ctrl.FetchMessage(ctx).Wait()
		case "save":
			ctrl.SaveMessage(ctx, rest).Wait()
		case "reset":
			ctrl.ResetMessage(ctx).Wait()
		case "send":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("usage: send <channel>")
				continue
			}
			ctrl.SendMessage(ctx, id).Wait()
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func printGuilds(ctrl *client.Controller) {
	guilds := ctrl.Guilds()
	ids := make([]int64, 0, len(guilds))
	for id := range guilds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		g := guilds[id]
		marker := " "
		if id == ctrl.SelectedGuild() {
			marker = "*"
		}
		fmt.Printf("%s %d %s (%d channels, %d members)\n", marker, g.ID, g.Name, len(g.Channels), len(g.Members))
	}
}
