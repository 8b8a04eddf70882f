package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/viewsync-dev/viewsync/pkg/client"
	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

func loadtestCmd() *cobra.Command {
	var opts loadtestOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent clients against a server and report latency",
		Long: `Drive concurrent clients against a sync server and report event
round trip latency percentiles.

Each client connects over WebSocket, locates an event target in its
mirrored tree and sends events at the target rate, waiting for the
resulting patch before sending the next one. Round trip time covers
capture, server handling, render, diff, patch delivery and the
client-side apply.

Without --url an in-process server serving an echo view is started,
so the command measures the full stack on one machine.

Examples:
  viewsync loadtest
  viewsync loadtest --clients=200 --duration=30s --rate=5
  viewsync loadtest --url=ws://localhost:8080/ws`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadtest(opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Target WebSocket URL (default: in-process server)")
	cmd.Flags().IntVarP(&opts.clients, "clients", "c", 100, "Number of concurrent clients")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 15*time.Second, "How long to run")
	cmd.Flags().Float64VarP(&opts.rate, "rate", "r", 2, "Target events/sec per client, response-gated")
	cmd.Flags().IntVar(&opts.payloadBytes, "payload-bytes", 24, "Bytes of token payload per input event")
	cmd.Flags().IntVar(&opts.listSize, "list", 50, "List size rendered by the in-process echo view")

	return cmd
}

type loadtestOptions struct {
	url          string
	clients      int
	duration     time.Duration
	rate         float64
	payloadBytes int
	listSize     int
}

type loadTotals struct {
	events atomic.Uint64
	errors atomic.Uint64
}

func runLoadtest(opts loadtestOptions) error {
	if opts.clients <= 0 {
		return fmt.Errorf("--clients must be > 0")
	}
	if opts.duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if opts.rate <= 0 {
		return fmt.Errorf("--rate must be > 0")
	}
	if opts.payloadBytes < 0 {
		return fmt.Errorf("--payload-bytes must be >= 0")
	}
	if opts.listSize < 0 {
		return fmt.Errorf("--list must be >= 0")
	}

	wsURL := opts.url
	selfHosted := wsURL == ""
	if selfHosted {
		url, stop, err := startEchoServer(opts.listSize, opts.clients)
		if err != nil {
			return err
		}
		defer stop()
		wsURL = url
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	samplesCh := make(chan time.Duration, 1024)
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samples = append(samples, rtt)
		}
	}()

	var totals loadTotals

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(opts.clients)
	for i := 0; i < opts.clients; i++ {
		clientID := i
		go func() {
			defer wg.Done()
			err := runLoadClient(ctx, wsURL, clientID, opts, samplesCh, &totals)
			if err != nil && ctx.Err() == nil {
				totals.errors.Add(1)
				fmt.Printf("client %d: %v\n", clientID, err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)
	close(samplesCh)
	<-collectorDone

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	printLoadReport(opts, elapsed, samples, &totals, before, after, selfHosted)
	return nil
}

// runLoadClient drives one client: connect, find the event target, then
// send events at the target rate, gating each on the patch it causes.
func runLoadClient(
	ctx context.Context,
	wsURL string,
	clientID int,
	opts loadtestOptions,
	samples chan<- time.Duration,
	totals *loadTotals,
) error {
	updates := make(chan uint64, 16)
	cfg := client.DefaultConfig().
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithOnUpdate(func(version uint64) {
			select {
			case updates <- version:
			default:
			}
		})

	cl, err := client.Dial(ctx, wsURL, cfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer cl.Close()

	// The initial tree arrives as the first update.
	select {
	case <-updates:
	case <-ctx.Done():
		return nil
	}

	targetID, isInput := findEventTarget(cl.Tree())
	if targetID == "" {
		return fmt.Errorf("no input or clickable node in the served tree")
	}

	period := time.Duration(float64(time.Second) / opts.rate)
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		seq++
		start := time.Now()

		var event *protocol.Event
		if isInput {
			event = protocol.NewInputEvent(0, targetID, makeToken(clientID, seq, opts.payloadBytes))
		} else {
			event = protocol.NewClickEvent(0, targetID)
		}
		if err := cl.CaptureEvent(event); err != nil {
			return fmt.Errorf("capture: %w", err)
		}

		select {
		case <-updates:
		case <-ctx.Done():
			return nil
		}

		totals.events.Add(1)
		select {
		case samples <- time.Since(start):
		case <-ctx.Done():
			return nil
		}

		// Best-effort pacing, gated on the response so queueing shows up
		// in the tail instead of piling events into the channel.
		if sleep := period - time.Since(start); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

// findEventTarget picks the node generated events go to: the first input
// element, or the first node wired for clicks when no input exists.
func findEventTarget(tree *vtree.Node) (nodeID string, isInput bool) {
	var clickID string
	var walk func(n *vtree.Node) string
	walk = func(n *vtree.Node) string {
		if n == nil {
			return ""
		}
		if n.Tag == "input" {
			return n.ID
		}
		if clickID == "" && n.Attrs["data-on"] == "click" {
			clickID = n.ID
		}
		for _, c := range n.Children {
			if id := walk(c); id != "" {
				return id
			}
		}
		return ""
	}
	if id := walk(tree); id != "" {
		return id, true
	}
	return clickID, false
}

// makeToken builds a distinct value per event, padded to the requested
// size so payload weight is controllable.
func makeToken(clientID int, seq uint64, size int) string {
	token := fmt.Sprintf("c%d-s%d-", clientID, seq)
	if pad := size - len(token); pad > 0 {
		token += strings.Repeat("x", pad)
	}
	return token
}

// startEchoServer runs an in-process server with the echo view on a
// loopback port and returns its WebSocket URL.
func startEchoServer(listSize, clients int) (string, func(), error) {
	srv := server.New(server.DefaultConfig().
		WithAddress("127.0.0.1:0").
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithMaxSessionsPerIP(clients * 2))
	srv.SetView(func(sess *server.Session) server.View {
		return &echoView{listSize: listSize}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{Handler: srv.Handler()}
	go func() { _ = httpServer.Serve(ln) }()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
		_ = srv.ShutdownWithContext(ctx)
	}
	return "ws://" + ln.Addr().String() + "/ws", stop, nil
}

// echoView renders an input echoed into a span next to a fixed list, so
// every event produces a small patch while render and diff cost scale
// with the list size.
type echoView struct {
	listSize int
	last     string
}

func (v *echoView) Render() *vtree.Node {
	items := make([]*vtree.Node, v.listSize)
	for i := range items {
		items[i] = vtree.El("li", vtree.WithKey(strconv.Itoa(i)), "item "+strconv.Itoa(i))
	}
	return vtree.El("div",
		vtree.El("input", vtree.Attr("data-on", "input"), vtree.Attr("value", v.last)),
		vtree.El("span", v.last),
		vtree.El("ul", items),
	)
}

func (v *echoView) HandleEvent(_ context.Context, event *protocol.Event) error {
	if event.Type == protocol.EventInput {
		v.last = event.Value
	}
	return nil
}

func printLoadReport(
	opts loadtestOptions,
	elapsed time.Duration,
	latencies []time.Duration,
	totals *loadTotals,
	before, after runtime.MemStats,
	selfHosted bool,
) {
	total := totals.events.Load()
	errs := totals.errors.Load()
	seconds := math.Max(0.001, elapsed.Seconds())

	fmt.Println("=== viewsync load test ===")
	fmt.Printf("Clients:    %d\n", opts.clients)
	fmt.Printf("Duration:   %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Rate:       %.2f events/s per client (target)\n", opts.rate)
	fmt.Printf("Events:     %d\n", total)
	fmt.Printf("Errors:     %d\n", errs)
	fmt.Printf("Throughput: %.1f events/s\n", float64(total)/seconds)
	fmt.Println()

	if len(latencies) == 0 {
		fmt.Println("No latency samples recorded.")
		return
	}

	fmt.Println("RTT (event capture to patch applied):")
	fmt.Printf("  min: %s\n", latencies[0])
	fmt.Printf("  p50: %s\n", percentile(latencies, 0.50))
	fmt.Printf("  p95: %s\n", percentile(latencies, 0.95))
	fmt.Printf("  p99: %s\n", percentile(latencies, 0.99))
	fmt.Printf("  max: %s\n", latencies[len(latencies)-1])

	if selfHosted {
		fmt.Println()
		fmt.Println("Go runtime (server and clients in-process):")
		fmt.Printf("  alloc:    %.2f MB\n", float64(after.TotalAlloc-before.TotalAlloc)/(1024*1024))
		fmt.Printf("  num_gc:   %d\n", after.NumGC-before.NumGC)
		fmt.Printf("  gc_pause: %s total\n", time.Duration(after.PauseTotalNs-before.PauseTotalNs))
	}
}

// percentile reads the p-quantile from an ascending sample slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
