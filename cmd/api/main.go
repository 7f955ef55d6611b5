package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/splitchat/internal/ai"
	"github.com/suPer8Hu/splitchat/internal/chat"
	"github.com/suPer8Hu/splitchat/internal/config"
	"github.com/suPer8Hu/splitchat/internal/controller"
	"github.com/suPer8Hu/splitchat/internal/db"
	"github.com/suPer8Hu/splitchat/internal/httpapi"
	"github.com/suPer8Hu/splitchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/splitchat/internal/split"
	"github.com/suPer8Hu/splitchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/splitchat/internal/store/redisstore"
)

// newRegistry routes by session.Provider + model.
func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	// Register Ollama (default)
	reg.Register("ollama", func(ctx context.Context, mc ai.ModelConfig) (ai.Provider, error) {
		_ = ctx
		if strings.TrimSpace(mc.Model) == "" {
			mc.Model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, mc), nil
	})

	reg.Register("openrouter", func(ctx context.Context, mc ai.ModelConfig) (ai.Provider, error) {
		_ = ctx
		if strings.TrimSpace(mc.Model) == "" {
			mc.Model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName, mc), nil
	})

	reg.SetDefault(cfg.AIProvider)
	return reg
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)

	reg := newRegistry(cfg)

	chatSvc := chat.NewService(chat.NewRepo(gdb), reg, cfg.ChatContextWindowSize)
	chatSvc.SetModelDefaults(ai.ModelConfig{
		Temperature: cfg.AITemperature,
		MaxTokens:   cfg.AIMaxTokens,
	})

	// result events are best effort: without rabbit the views still work
	var sink split.ResultSink
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitResultQueue)
	if err != nil {
		log.Printf("[API] rabbit unavailable, result events disabled err=%v", err)
	} else {
		defer pub.Close()
		sink = pub
	}

	hub := split.NewHub(chatSvc, ai.NewStreamAdapter(reg), controller.NewPool(), split.HubConfig{
		Models:      cfg.SplitModels,
		ErrorPrefix: cfg.SplitErrorPrefix,
		Sink:        sink,
	})
	defer hub.Shutdown()

	chatSvc.OnMessagesChanged(func(userID uint64, sessionID string) {
		hub.SessionChanged(context.Background(), userID, sessionID)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cancels handlers.CancelPublisher
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(ctx); err != nil {
		log.Printf("[API] redis unavailable, cancels stay local err=%v", err)
	} else {
		bus := rds.CancelBus(cfg.SplitCancelChannel, uuid.NewString())
		cancels = bus
		go func() {
			if err := bus.Run(ctx, hub); err != nil {
				log.Printf("[API] cancel bus stopped err=%v", err)
			}
		}()
	}

	h := handlers.NewHandler(gdb, cfg, chatSvc, hub, cancels)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[API] listening addr=%s models=%v", cfg.HTTPAddr, cfg.SplitModels)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[API] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] shutdown err=%v", err)
	}
}
