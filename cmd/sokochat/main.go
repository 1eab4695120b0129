package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"sokochat/internal/app/session"
	"sokochat/internal/domain/chat"
	"sokochat/internal/infra/auth"
	"sokochat/internal/infra/config"
	"sokochat/internal/infra/obs"
	"sokochat/internal/infra/rest"
	"sokochat/internal/infra/ws"
)

func main() {
	conversationID := flag.Int64("conversation", 0, "existing conversation id to open")
	sellerID := flag.Int64("seller", 0, "seller profile to start a conversation with")
	productID := flag.Int64("product", 0, "product the conversation is about")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	client, err := rest.NewClient(rest.Config{
		BaseURL:     cfg.APIBaseURL,
		AccessToken: cfg.AccessToken,
		Timeout:     cfg.HTTPTimeout,
	}, logger)
	if err != nil {
		logger.Error("cannot build api client", "error", err)
		os.Exit(1)
	}

	access := cfg.AccessToken
	if access == "" {
		if cfg.Username == "" || cfg.Password == "" {
			logger.Error("set ACCESS_TOKEN or CHAT_USERNAME and CHAT_PASSWORD")
			os.Exit(1)
		}
		resp, err := client.Login(ctx, cfg.Username, cfg.Password)
		if err != nil {
			logger.Error("login failed", "username", cfg.Username, "error", err)
			os.Exit(1)
		}
		access = resp.Access
	}
	viewerID, err := auth.ViewerID(access)
	if err != nil {
		logger.Error("cannot read viewer identity from token", "error", err)
		os.Exit(1)
	}

	dialer := ws.SessionDialer{
		Cfg: ws.Config{
			BaseURL:     cfg.WSBaseURL,
			AccessToken: access,
			Reconnect:   cfg.Reconnect,
			MaxBackoff:  cfg.ReconnectMaxOff,
		},
		Logger: logger,
	}
	s := session.New(client, dialer, session.Config{Viewer: viewerID, TypingIdle: cfg.TypingIdle}, logger)
	defer s.Close()

	target := session.ResolveTarget{
		Conversation: chat.ConversationID(*conversationID),
		Seller:       chat.SellerID(*sellerID),
		Product:      chat.ProductID(*productID),
	}
	// A product flag alone is enough context: the listing names its seller.
	if target.Conversation == 0 && target.Seller == 0 && target.Product != 0 {
		product, err := client.GetProduct(ctx, target.Product)
		if err != nil {
			logger.Error("cannot load product context", "product", target.Product, "error", err)
			os.Exit(1)
		}
		target.Seller = product.Seller
		fmt.Printf("— %s (%s %s)\n", product.Name, product.Price, product.Currency)
	}

	id, err := s.Resolve(ctx, target)
	switch {
	case errors.Is(err, chat.ErrSelfConversation):
		fmt.Println(chat.SelfConversationDetail)
		os.Exit(1)
	case errors.Is(err, chat.ErrMissingContext):
		fmt.Println("pass -conversation, -seller, or -product to pick a conversation")
		os.Exit(1)
	case err != nil:
		logger.Error("cannot resolve conversation", "error", err)
		os.Exit(1)
	}

	r := &renderer{viewer: viewerID, printed: make(map[chat.MessageID]chat.DeliveryStatus)}
	unsubscribe := s.Subscribe(r.render)
	defer unsubscribe()

	if err := s.LoadHistory(ctx); err != nil {
		logger.Error("cannot load history", "conversation", id, "error", err)
		os.Exit(1)
	}
	if err := s.Connect(ctx); err != nil {
		logger.Warn("live channel unavailable, sends will resync over rest", "conversation", id, "error", err)
	}

	fmt.Printf("conversation %d — type a message and press enter, ctrl-c to quit\n", id)
	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			s.InputChanged(text)
			if _, err := s.Send(ctx, text); err != nil {
				logger.Error("send failed", "conversation", id, "error", err)
			}
			s.InputChanged("")
		}
	}
}

// renderer prints messages and typing transitions as snapshots arrive.
type renderer struct {
	viewer chat.UserID

	mu         sync.Mutex
	printed    map[chat.MessageID]chat.DeliveryStatus
	peerTyping bool
}

func (r *renderer) render(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range snap.Messages {
		prev, seen := r.printed[msg.ID]
		if seen && prev == msg.Status {
			continue
		}
		r.printed[msg.ID] = msg.Status
		if msg.Sender == r.viewer {
			marks, read := msg.Status.Indicator()
			if read {
				marks += " read"
			}
			if seen {
				fmt.Printf("  (message %d is now %s)\n", msg.ID, marks)
			} else {
				fmt.Printf("you: %s %s\n", msg.Text, marks)
			}
		} else if !seen {
			fmt.Printf("them: %s\n", msg.Text)
		}
	}
	if snap.OtherTyping != r.peerTyping {
		r.peerTyping = snap.OtherTyping
		if r.peerTyping {
			fmt.Println("  (typing...)")
		}
	}
}

func readLines(f *os.File) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
