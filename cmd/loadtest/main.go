package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pchastel/causerie/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

type stats struct {
	sent      atomic.Int64
	delivered atomic.Int64
	received  atomic.Int64
	failures  atomic.Int64
}

// worker drives one simulated client: register, login, then send messages to
// random peers at the configured rate while draining everything the server
// pushes back.
type worker struct {
	id       int
	addr     string
	username string
	peers    []string
	interval time.Duration
	stats    *stats
}

func (w *worker) run(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	conn, err := net.Dial("tcp", w.addr)
	if err != nil {
		log.Printf("worker %d: dial failed: %v", w.id, err)
		w.stats.failures.Add(1)
		return
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	send := func(parts ...string) error {
		_, err := conn.Write([]byte(protocol.BuildCommand(parts...) + "\n"))
		return err
	}
	recv := func() ([]string, error) {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		return protocol.ParseCommandN(protocol.TrimFrame(line), protocol.IncomingMsgParts), nil
	}

	if err := send(protocol.CmdRegister, w.username, "loadtest"); err != nil {
		w.stats.failures.Add(1)
		return
	}
	if _, err := recv(); err != nil {
		w.stats.failures.Add(1)
		return
	}
	if err := send(protocol.CmdLogin, w.username, "loadtest"); err != nil {
		w.stats.failures.Add(1)
		return
	}
	parts, err := recv()
	if err != nil || parts[0] != protocol.RespLoginOK {
		log.Printf("worker %d: login failed: %v %v", w.id, parts, err)
		w.stats.failures.Add(1)
		return
	}

	// Reader side: count pushes, discard the rest.
	go func() {
		for {
			parts, err := recv()
			if err != nil {
				return
			}
			switch parts[0] {
			case protocol.RespIncomingMsg:
				w.stats.received.Add(1)
			case protocol.RespMsgOK:
				w.stats.delivered.Add(1)
			case protocol.RespMsgFail:
				w.stats.failures.Add(1)
			}
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			send(protocol.CmdLogout)
			return
		case <-ticker.C:
			peer := w.peers[rand.Intn(len(w.peers))]
			if peer == w.username {
				continue
			}
			content := randomMessage()
			if err := send(protocol.CmdSendMsg, peer, content); err != nil {
				w.stats.failures.Add(1)
				return
			}
			w.stats.sent.Add(1)
		}
	}
}

func randomMessage() string {
	n := 3 + rand.Intn(12)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

func main() {
	addr := flag.String("addr", "localhost:7420", "server address")
	clients := flag.Int("clients", 50, "number of concurrent clients")
	rate := flag.Duration("rate", 2*time.Second, "send interval per client")
	duration := flag.Duration("duration", 0, "test duration (0 = until interrupted)")
	flag.Parse()

	run := fmt.Sprintf("lt%d", time.Now().Unix()%100000)
	usernames := make([]string, *clients)
	for i := range usernames {
		usernames[i] = fmt.Sprintf("%s_u%d", run, i)
	}

	st := &stats{}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	log.Printf("Starting %d clients against %s (interval %s)", *clients, *addr, *rate)
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		w := &worker{
			id:       i,
			addr:     *addr,
			username: usernames[i],
			peers:    usernames,
			interval: *rate,
			stats:    st,
		}
		go w.run(stop, &wg)
		// Stagger connects so the server is not hit by one thundering herd.
		time.Sleep(10 * time.Millisecond)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	start := time.Now()
	for {
		select {
		case <-statsTicker.C:
			elapsed := time.Since(start).Seconds()
			sent := st.sent.Load()
			log.Printf("[%.0fs] sent=%d acked=%d received=%d failures=%d (%.1f msg/s)",
				elapsed, sent, st.delivered.Load(), st.received.Load(), st.failures.Load(),
				float64(sent)/elapsed)
		case <-sigChan:
			log.Println("Interrupted, stopping clients...")
			close(stop)
			wg.Wait()
			report(st, time.Since(start))
			return
		case <-deadline:
			log.Println("Duration reached, stopping clients...")
			close(stop)
			wg.Wait()
			report(st, time.Since(start))
			return
		}
	}
}

func report(st *stats, elapsed time.Duration) {
	sent := st.sent.Load()
	log.Printf("=== Results after %s ===", elapsed.Round(time.Second))
	log.Printf("Messages sent:     %d (%.1f msg/s)", sent, float64(sent)/elapsed.Seconds())
	log.Printf("Messages acked:    %d", st.delivered.Load())
	log.Printf("Messages received: %d", st.received.Load())
	log.Printf("Failures:          %d", st.failures.Load())
}
