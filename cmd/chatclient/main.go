// Command chatclient is a line-oriented terminal client for the messaging
// core. It keeps one realtime session open and prints what arrives.
//
//	/inbox            list conversations
//	/open <id>        open a conversation and print its history
//	/close            close the open conversation
//	/image <path>     upload a picture into the open conversation
//	/typing           send a typing indicator
//	/notes            show recent notifications
//	/pending          list sends waiting for the server
//	/quit             exit
//
// Any other line is sent as a message to the open conversation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tripchat/internal/client"
	"tripchat/internal/models"
	"tripchat/internal/observability"
)

func main() {
	profilePath := flag.String("profile", "tripchat.yaml", "Path to the session profile")
	flag.Parse()

	profile, err := client.LoadProfile(*profilePath)
	if err != nil {
		log.Fatalf("Failed to load profile: %v", err)
	}

	opts, closer, err := profile.Options(observability.GlobalLogger.Logger)
	if err != nil {
		log.Fatalf("Failed to configure session: %v", err)
	}
	defer func() { _ = closer.Close() }()

	m, err := client.NewManager(opts)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	defer m.Stop()

	go printEffects(ctx, m)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, m, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handle(ctx context.Context, m *client.Manager, line string) bool {
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return true
	case "/inbox":
		for _, s := range m.Inbox().Conversations() {
			fmt.Printf("  #%-5d %-6s %-30s unread=%d  %s\n", s.ConversationID, s.Kind, s.Name, s.UnreadCount, s.LastMessage)
		}
	case "/open":
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil || id == 0 {
			fmt.Println("usage: /open <conversation id>")
			return false
		}
		if err := m.OpenConversation(uint(id)); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "/close":
		m.CloseConversation()
	case "/image":
		sendImage(ctx, m, arg)
	case "/typing":
		if err := m.SetTyping(ctx, true); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "/notes":
		for _, n := range m.Notifications().Items() {
			mark := " "
			if !n.IsRead {
				mark = "*"
			}
			fmt.Printf("  %s %s  %s: %s\n", mark, n.CreatedAt.Format("Jan 02 15:04"), n.ActorName, n.Message)
		}
	case "/pending":
		items, err := m.Pending()
		if err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, p := range items {
			fmt.Printf("  #%d %s %q\n", p.ConversationID, p.ClientToken[:8], p.Content)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Printf("unknown command %s\n", cmd)
			return false
		}
		active := m.Active()
		if active == 0 {
			fmt.Println("open a conversation first: /open <id>")
			return false
		}
		if _, err := m.Send(active, line); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	return false
}

func sendImage(ctx context.Context, m *client.Manager, path string) {
	active := m.Active()
	if active == 0 || path == "" {
		fmt.Println("usage: /image <path> (with a conversation open)")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("! %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := m.SendMedia(ctx, active, models.MessageImage, filepath.Base(path), f, ""); err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func printEffects(ctx context.Context, m *client.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.Effects():
			switch e.Kind {
			case client.EffectNewMessage:
				printMessage(m, e)
			case client.EffectNotification:
				for _, n := range m.Notifications().Items() {
					if n.ID == e.NotificationID {
						fmt.Printf("🔔 %s: %s\n", n.ActorName, n.Message)
					}
				}
			case client.EffectSendFailed:
				fmt.Printf("! send %s failed: %v\n", e.ClientToken, e.Err)
			}
		}
	}
}

func printMessage(m *client.Manager, e client.Effect) {
	tl, ok := m.Timeline(e.ConversationID)
	if !ok {
		fmt.Printf("💬 new message in #%d\n", e.ConversationID)
		return
	}
	for _, msg := range tl.Messages() {
		if msg.ID != e.MessageID {
			continue
		}
		body := msg.Content
		if msg.MediaURL != "" {
			body = strings.TrimSpace(body + " " + msg.MediaURL)
		}
		fmt.Printf("[#%d %s] %s: %s\n", e.ConversationID, msg.CreatedAt.Format("15:04"), msg.SenderName, body)
		return
	}
}
