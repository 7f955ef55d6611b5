package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/splitchat/internal/config"
	"github.com/suPer8Hu/splitchat/internal/db"
	"github.com/suPer8Hu/splitchat/internal/split"
	"github.com/suPer8Hu/splitchat/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)
	results := split.NewResultRepo(gdb)

	// retries go back through the retry queue
	retry, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitResultQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer retry.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitResultQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitResultQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitResultQueue, concurrency)

	// worker pool
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, workerID, results, retry, d)
			}
		}(i)
	}

	dispatch(ctx, msgs, deliveries)
	close(deliveries)
	wg.Wait()
}

// dispatch feeds the worker pool until ctx ends or the broker closes msgs.
// A delivery held when ctx ends stays unacked; the broker redelivers it.
func dispatch(ctx context.Context, msgs <-chan amqp.Delivery, deliveries chan<- amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				return
			}
			select {
			case deliveries <- d:
			case <-ctx.Done():
				log.Printf("worker shutting down msg=%s", d.MessageId)
				return
			}
		}
	}
}

func handleDelivery(ctx context.Context, workerID int, results *split.ResultRepo, retry *rabbitmq.Publisher, d amqp.Delivery) {
	ev, err := rabbitmq.DecodeResult(d.Body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := results.Save(ctx, ev); err != nil {
		attempt := rabbitmq.Attempt(d) + 1
		log.Printf("worker=%d save failed conv=%s msg=%s attempt=%d cost=%s err=%v",
			workerID, ev.ConversationID, ev.MessageID, attempt, time.Since(start), err)

		if attempt < maxAttempts {
			if perr := retry.PublishRetry(ctx, d, attempt, retryDelay); perr == nil {
				_ = d.Ack(false)
				return
			}
		}
		// dead-letter
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed msg=%s err=%v", workerID, ev.MessageID, err)
	}
}
